// Package socketclient connects to the daemon's Unix socket.
//
// # Basic Usage
//
//	c, err := socketclient.Dial(ctx, socketPath)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	res, err := c.Command(ctx, "start -a VIEW -d https://example.com")
//
// # Streaming Output
//
// After Attach, session output and exit notices arrive on Events as
// "session_output" and "session_exit" messages until Detach or Close:
//
//	for msg := range c.Events() {
//	    var out socketclient.SessionOutput
//	    if msg.Type == "session_output" && msg.Decode(&out) == nil {
//	        os.Stdout.Write(out.Data)
//	    }
//	}
package socketclient
