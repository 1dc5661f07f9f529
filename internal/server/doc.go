/*
Package server hosts the gateway's HTTP listener and its middleware.

# Middleware

Every request passes through, in order:
 1. RequestIDMiddleware: keeps a valid inbound X-Request-ID or mints a UUID,
    stores it in the context (GetRequestID) and echoes it in the response.
 2. LoggingMiddleware: logs "request started" and "request completed" with
    status, bytes and duration. Handlers attach fields with AddLogField and
    AddError.
 3. chi's Recoverer: turns panics into a 500.
 4. otelhttp: one server span per request.

Two more are applied per route group rather than globally:
  - TimeoutMiddleware bounds non-streaming routes. The stream route is
    mounted outside it so long generations are not cut off.
  - AuthMiddleware guards /admin. Stream requests are authenticated by the
    engine after the request body is validated.

# Usage

	srv := server.New(cfg.Server, logger)
	srv.Router.Post("/v1/stream", handler.Stream)
	go srv.Serve(ln)
*/
package server
