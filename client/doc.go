// Package client is an HTTP client whose transfers run on a single
// background reactor.
//
// # Building a Client
//
// Use [Build] to create a [Client] with functional options:
//
//	c, err := client.Build(
//		client.WithTimeout(10 * time.Second),
//		client.WithUserAgent("myapp/1.0"),
//		client.WithBufferLimits(256*datasize.KB, 64*datasize.KB),
//	)
//	defer c.Close()
//
// Configuration can also come from a file, with RXHTTP_ environment
// overrides:
//
//	c, err := client.Build(client.WithConfigFile(afero.NewOsFs(), "rxhttp.yaml"))
//
// # Sending Requests
//
// [Client.Send] and the [Client.Get] family return once the status line
// and headers arrived. The body keeps streaming in the background and is
// paused while the reader falls behind. Closing the body early cancels
// the transfer.
//
//	resp, err := c.Get(ctx, "https://api.example.com/v1/resource")
//	if err != nil { ... }
//	defer resp.Body.Close()
//
// Construct a [URL] and [Request], then execute with [Client.Do] to
// check the status and decode JSON:
//
//	u := client.URL("https", "api.example.com", "/v1/resource")
//	req, err := client.Request(ctx, u, http.MethodGet)
//	err = c.Do(req, http.StatusOK, client.WithDestination(&result))
//
// # Pooled Transports
//
// [WithPool] replaces the reactor by a pool of synchronous transports.
// Each response body holds its transport until it is drained or closed,
// after which the transport returns to the pool.
//
// # Downloading Files
//
// Stream a response body to a file with optional checksum verification
// and progress reporting:
//
//	err = c.Download(req, http.StatusOK, "/tmp/file.bin",
//		client.WithChecksum(sha256.New(), expectedHex),
//		client.WithProgress(),
//	)
//
// Downloads run in the background with [Client.DownloadAsync]. Use
// [WithBatch] to cap concurrency and [DownloadJob.Add] to enqueue more:
//
//	j, err := c.DownloadAsync(req1, http.StatusOK, "/tmp/a.bin", client.WithBatch(4))
//	j.Add(req2, http.StatusOK, "/tmp/b.bin")
//	err = j.Wait()
package client
