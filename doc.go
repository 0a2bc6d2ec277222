/*
Package interceptor provides a programmable intercepting HTTP proxy,
supporting interception of HTTPS traffic through forged certificates.

Every request read from a client goes through four phases, in order:

	request        the request can be changed, or answered without the origin
	request-sent   the request is on its way, read only
	response       the response can be changed
	response-sent  the response was written to the client, read only

Interceptors are registered per phase and run one after another in
registration order. Each can be restricted with a Predicate, a custom
filter, and can ask for the body to be parsed before it runs:

	srv, _ := interceptor.New(interceptor.DefaultOptions())
	srv.Intercept(interceptor.InterceptOptions{
		Phase: "response",
		As:    "tree",
		Predicate: interceptor.Predicate{
			MimeType: interceptor.String("text/html"),
		},
	}, interceptor.HandlerFunc(func(c *interceptor.Cycle) error {
		c.Response.Body.Tree().HTML.Find("title").SetText("intercepted")
		return nil
	}))
	srv.Listen(":8080")

With TLS interception enabled, CONNECT tunnels are terminated on an internal
loopback listener with a certificate forged for the requested name and the
decrypted requests enter the same pipeline, addressed to
https://<host>:<port>.
*/
package interceptor
