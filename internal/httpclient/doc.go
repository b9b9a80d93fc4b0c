// Package httpclient reads statistics from a running tickstat server over
// its JSON API.
//
// Use [NewStatsClient] with the server's base URL:
//
//	client, err := httpclient.NewStatsClient("http://localhost:8080", httpclient.Options{
//		Timeout: 10 * time.Second,
//		Tracer:  provider.Tracer(),
//	})
//	if err != nil {
//		return err
//	}
//	summary, err := client.Summary(ctx)
//
// History pages are fetched per measurement type with [Client.History]. Every
// call runs in a client span and, when Propagate is set, carries W3C trace
// context to the server.
//
// Non-2xx answers are returned as [*APIError] with the server's error message.
package httpclient
