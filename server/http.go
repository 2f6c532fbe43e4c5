/******************************************************************************
 *
 *  Description :
 *
 *    Web server initialization and shutdown.
 *
 *****************************************************************************/

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oxytalk/chat/server/logs"
)

// A session is considered gone after this long without traffic; the
// websocket ping period derives from it.
const idleSessionTimeout = time.Second * 55

func listenAndServe(mux http.Handler, addr string, tlsCert, tlsKey string, stop <-chan bool) error {
	globals.shuttingDown = false

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	httpdone := make(chan bool)

	go func() {
		var err error
		if tlsCert != "" && tlsKey != "" {
			logs.Info.Printf("Listening for client HTTPS connections on [%s]", addr)
			err = server.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			logs.Info.Printf("Listening for client HTTP connections on [%s]", addr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Err.Println("http: failed to start server:", err)
		}
		httpdone <- true
	}()

	var finished bool
	for !finished {
		select {
		case <-stop:
			// Flip the flag that the server is terminating and close the
			// listener: new connections are refused from here on.
			globals.shuttingDown = true

			ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)

			if err := server.Shutdown(ctx); err != nil {
				// Failure or timeout stopping the server gracefully.
				logs.Err.Println("http: failed to terminate gracefully:", err)
				cancel()
			}

			// While the server shuts down, termination is announced to
			// websocket sessions, then channel actors are drained.
			globals.sessionStore.Shutdown()

			done := make(chan bool)
			globals.hub.shutdown <- done
			<-done

			cancel()

		case <-httpdone:
			finished = true
		}
	}
	return nil
}

// signalHandler converts SIGINT and SIGTERM into a message over the
// returned channel.
func signalHandler() <-chan bool {
	stop := make(chan bool)

	signchan := make(chan os.Signal, 1)
	signal.Notify(signchan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		// Wait for a signal. Don't care which signal it is.
		sig := <-signchan
		logs.Info.Printf("Signal received: '%s', shutting down", sig)
		stop <- true
	}()

	return stop
}
