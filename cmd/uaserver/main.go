package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/opcnet-io/uastack/server"
	"github.com/opcnet-io/uastack/services"
	"github.com/opcnet-io/uastack/utils"
	"github.com/pkg/errors"
)

func main() {
	// Getting configs from the file
	configs := utils.GetConfig()

	if err := services.EnsurePKI(configs.CertFile, configs.KeyFile, "UaStackServer", configs.Host, nil); err != nil {
		log.Println(errors.Wrap(err, "Error creating server certificate"))
	}

	address := fmt.Sprintf("%s:%d", configs.Host, configs.Port)
	acceptor := server.NewSocketAcceptor(address,
		server.WithStrictEndpointURLs(configs.StrictEndpointURLs),
	)

	servers := make([]*server.Server, 0, len(configs.Endpoints))
	for _, ep := range configs.Endpoints {
		urls := make([]string, 0, len(ep.Paths))
		for _, path := range ep.Paths {
			urls = append(urls, fmt.Sprintf("opc.tcp://%s%s", address, path))
		}
		opts := []server.Option{
			server.WithTransportLimits(configs.SendBufferSize, configs.MaxMessageSize, configs.MaxChunkCount),
			server.WithMaxWorkerThreads(configs.MaxWorkerThreads),
		}
		if _, err := os.Stat(configs.CertFile); err == nil {
			opts = append(opts, server.WithCertificate(configs.CertFile, configs.KeyFile))
		} else {
			log.Println(utils.Colorize("No server certificate, serving unsecured endpoints only", utils.Yellow))
		}
		if configs.Trace {
			opts = append(opts, server.WithTrace())
		}
		srv, err := server.New(ep.Name, urls, opts...)
		if err != nil {
			log.Fatalln(errors.Wrap(err, "Error creating server"))
		}
		acceptor.Register(srv)
		servers = append(servers, srv)
		for _, u := range urls {
			log.Printf("%s '%s' at '%s'\n", utils.Colorize("Serving", utils.Cyan), utils.Colorize(ep.Name, utils.Magenta), utils.Colorize(u, utils.Cyan))
		}
	}

	go func() {
		if err := acceptor.ListenAndServe(); err != nil {
			log.Println(errors.Wrap(err, "Acceptor stopped"))
		}
	}()

	// Wait for a signal before exiting
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	signal.Notify(sig, syscall.SIGTERM)
	<-sig
	log.Println("Stopping server...")
	for _, srv := range servers {
		acceptor.Unregister(srv)
		srv.Close()
	}
	acceptor.Shutdown()
}
