// Package bridge implements the request/response protocol between an
// embedding host application and the widget runtime.
//
// The two sides run as independent event loops with no shared memory and
// communicate only by posting payloads over a Transport. Requests carry a
// caller-generated correlation id; every request eventually yields exactly
// one matching response or error, or times out.
//
// The widget side uses a Client:
//
//	client := bridge.NewClient(transport, logger)
//	secret, err := client.GetClientSecret(ctx)
//
// The host side holds a Host and supplies the answers:
//
//	host := bridge.NewHost(transport, logger)
//	host.Initialize(uiOptions, bridge.HostOptions{
//		GetClientSecret: fetchSecret,
//	})
//
// Both sides drop any inbound payload that does not pass IsBridgeMessage,
// so unrelated traffic on a shared channel is ignored rather than fatal.
package bridge
