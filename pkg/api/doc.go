// Package api exposes a *queue.Queue over HTTP/JSON.
//
// Push, poll, update, and delete map directly onto queue.Queue's
// operations; healthz/readyz/metrics and the admin suspend/resume
// toggles are the ambient surface around them. Poll tags are
// hex-encoded on the wire regardless of backend, since the slot-file
// layout's tags are wider than a JSON number can carry losslessly.
//
//	srv := api.NewServer(q, version)
//	log.Fatal(srv.Start(":8080").Error())
package api
