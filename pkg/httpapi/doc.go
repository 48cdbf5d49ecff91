// Package httpapi exposes the route engine over HTTP using gin.
//
// Endpoints:
//
//	GET  /health
//	POST /models                                register a route model (JSON)
//	GET  /routes?model=&state=                  list routes
//	POST /routes                                create and start a route
//	GET  /routes/:routeID                       route with all nodes
//	GET  /routes/:routeID/state                 node states and variables
//	GET  /routes/:routeID/events                history
//	POST /routes/:routeID/run                   resume
//	POST /routes/:routeID/cancel                cancel
//	POST /routes/:routeID/nodes/:nodeID/run     re-enter one node
//	POST /routes/:routeID/nodes/:nodeID/complete complete a human task
//
// The X-Principal header is bound as the acting principal. Engine errors
// map to status codes: missing entities 404, rejected triggers and save
// conflicts 409, definition errors 422, chain and guard failures 500.
package httpapi
