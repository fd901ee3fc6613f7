// Package icomet is a client for the iComet channel push server.
//
// Single-shot operations (Sign, Push, Check, Close, Clear, Info and
// server-side Broadcast) are plain GET requests whose failures surface
// directly to the caller. Broadcast with an explicit channel list fans out
// one Push per channel through a bounded dispatcher and returns as soon as the
// pushes are handed off; their individual results are not reported.
//
// Subscribe consumes the /psub presence feed and blocks until the feed ends,
// fails or its context is cancelled.
//
//	c, err := icomet.New(icomet.Config{URI: "http://127.0.0.1:8000"}, logx.Nop())
//	if err != nil {
//		return err
//	}
//	defer c.Shutdown(context.Background())
//	ok, err := c.Push(ctx, "room-1", map[string]any{"text": "hi"})
package icomet
