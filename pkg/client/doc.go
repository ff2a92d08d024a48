// Package client is a hand-written Go SDK for the task node's read-only
// admin/observability API, plus a WebSocket client for real-time task
// status events.
//
// # Basic Usage
//
//	c, err := client.New("http://localhost:8090")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	pools, err := c.Pools(ctx)
//	rec, err := c.Task(ctx, taskID)
//
// # WebSocket Events
//
//	err := c.ConnectWebSocket(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.CloseWebSocket()
//
//	for event := range c.Events() {
//	    fmt.Printf("event: %s\n", event.Type)
//	}
//
// # Configuration
//
// The client supports functional options for configuration:
//
//	c, err := client.New("http://localhost:8090",
//	    client.WithAPIKey("your-api-key"),
//	    client.WithTimeout(30 * time.Second),
//	)
package client
