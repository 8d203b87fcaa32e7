package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.linksmart.eu/dt/ops-console/console/env"
	"code.linksmart.eu/dt/ops-console/console/storage"
	"code.linksmart.eu/dt/ops-console/deploy"
	"code.linksmart.eu/dt/ops-console/executor"
	"code.linksmart.eu/dt/ops-console/pipeline"
	"code.linksmart.eu/dt/ops-console/remote"
	"code.linksmart.eu/dt/ops-console/scheduler"
	"code.linksmart.eu/dt/ops-console/status"
	"code.linksmart.eu/dt/ops-console/tailer"
	"code.linksmart.eu/dt/ops-console/targets"
	"github.com/cskr/pubsub"
)

const eventsCapacity = 100

func main() {
	confPath := flag.String("conf", DefaultConfigFile, "path to the configuration file")
	newToken := flag.Bool("new-token", false, "generate an access token and its hash, then exit")
	flag.Parse()

	if env.LogTimestamps {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.Lshortfile)
	}

	if *newToken {
		token, hash, err := GenerateRandomToken(48)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("token: %s\nhash:  %s\n", token, hash)
		return
	}

	log.Println("started operations console")
	defer log.Println("bye.")

	conf, err := loadConfig(env.String(env.ConfigFile, *confPath))
	if err != nil {
		log.Fatalf("Error loading config: %s", err)
	}

	resolver, err := targets.Load(conf.TargetsFile)
	if err != nil {
		log.Fatalf("Error loading targets: %s", err)
	}

	var history storage.Storage
	if conf.ElasticURL != "" {
		history, err = storage.NewElasticStorage(conf.ElasticURL)
		if err != nil {
			log.Fatalf("Error starting elastic storage: %s", err)
		}
	} else {
		history = storage.NewMemoryStorage(conf.HistorySize)
	}

	dialer := remote.NewDialer(conf.SSH.Config, conf.SSH.KnownHosts)
	if conf.SSH.ConnectTimeout > 0 {
		dialer.ConnectTimeout = conf.SSH.ConnectTimeout
	}
	factory := executor.NewFactory(dialer, conf.StepTimeout)

	builder := pipeline.NewBuilder(conf.Layout)
	builder.RestartSettle = conf.RestartSettle
	builder.ReschemaSettle = conf.ReschemaSettle
	if len(conf.Environments) > 0 {
		builder.Environments = conf.Environments
	}

	events := pubsub.New(eventsCapacity)
	defer events.Shutdown()
	sched := scheduler.New(pipeline.NewRunner(factory), events, history)

	service := &deploy.Service{
		Targets:   resolver,
		Builder:   builder,
		Scheduler: sched,
		Opener:    factory,
		Reporter:  status.NewReporter(factory, builder),
		Tailer:    tailer.New(dialer),
	}
	api := newRESTAPI(service, events, newAuthenticator(conf.Tokens, "/health"))

	server := &http.Server{
		Addr:              conf.BindAddr,
		Handler:           api.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Println("RESTAPI: Binding to", conf.BindAddr)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down server: %s", err)
	}
	log.Println("Waiting for background tasks to finish")
	sched.Wait()
}
