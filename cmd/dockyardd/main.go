package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/labstack/echo/v4"
	glog "github.com/labstack/gommon/log"

	"github.com/dockyard-paas/dockyard/cmd/dockyardd/handlers"
	"github.com/dockyard-paas/dockyard/pkg/app"
	"github.com/dockyard-paas/dockyard/pkg/auth"
	"github.com/dockyard-paas/dockyard/pkg/configs"
	kdb "github.com/dockyard-paas/dockyard/pkg/db"
	dbmock "github.com/dockyard-paas/dockyard/pkg/db/mock"
	kpg "github.com/dockyard-paas/dockyard/pkg/db/postgres"
	"github.com/dockyard-paas/dockyard/pkg/discovery"
	discetcd "github.com/dockyard-paas/dockyard/pkg/discovery/etcd"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	"github.com/dockyard-paas/dockyard/pkg/key"
	"github.com/dockyard-paas/dockyard/pkg/registry"
	"github.com/dockyard-paas/dockyard/pkg/release"
	"github.com/dockyard-paas/dockyard/pkg/utils/echoutil"
	"github.com/dockyard-paas/dockyard/pkg/utils/filewatch"
)

const tokenLifetime = 30 * 24 * time.Hour

func main() {

	configPath := flag.String("config-path", "", "daemon config path")
	loglevel := flag.String("loglevel", "", "log level. debug|info|warn|error|off (overrides config)")
	flag.Parse()

	conf, err := configs.LoadDockyardConfig(*configPath)
	if err != nil {
		log.Fatalf("can not read configration: %s", err)
	}
	if *loglevel == "" {
		*loglevel = conf.Loglevel
	}
	if conf.AuthSecret == "" {
		log.Fatal("authSecret is required in the config")
	}

	e := echo.New()

	// set log. one logger shared by echo and the domain layers.
	logger := glog.New("dockyard")
	e.Logger = logger
	echoutil.SetLevel(e, *loglevel)
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	// quit to restart when the config file changes
	{
		watched, cancel, err := filewatch.UntilModifyContext(context.Background(), *configPath)
		if err != nil {
			log.Fatalf("can not watch configration: %s", err)
		}
		defer cancel()
		context.AfterFunc(watched, func() {
			log.Println("config file is updated. quit to restart server.")
			graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := e.Shutdown(graceful); err != nil {
				log.Printf("error on shutdown by config update: %s", err)
			}
		})
	}

	ctx := context.Background()

	store, err := getStore(ctx, conf.DBURI)
	if err != nil {
		log.Fatalf("can not reach the database: %s", err)
	}
	defer store.Close()
	if conf.DBURI == "" {
		log.Println("no database configured. running on the in-memory store; nothing survives a restart.")
	}

	for _, cc := range conf.Clusters {
		ctype, err := domain.AsClusterType(cc.Type)
		if err != nil {
			log.Fatalf("cluster %s: %s", cc.Name, err)
		}
		err = store.Clusters().Register(ctx, domain.Cluster{
			Name:    cc.Name,
			Type:    ctype,
			Domain:  cc.Domain,
			Hosts:   cc.Hosts,
			Auth:    cc.Auth,
			Options: cc.Options,
		})
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			log.Fatalf("can not register cluster %s: %s", cc.Name, err)
		}
	}

	disc := discovery.Unavailable()
	if len(conf.Discovery.Endpoints) != 0 {
		d, closeDisc, err := discetcd.New(
			ctx, conf.Discovery.Endpoints,
			time.Duration(conf.Discovery.DialTimeoutSeconds)*time.Second,
		)
		if err != nil {
			log.Fatalf("can not reach the discovery store: %s", err)
		}
		defer closeDisc()
		disc = d
	}

	if conf.Registry.Host == "" {
		log.Fatal("registry.host is required in the config")
	}
	reg := registry.New(conf.Registry.Host, conf.Registry.Port)
	registryAddr := fmt.Sprintf("%s:%d", conf.Registry.Host, conf.Registry.Port)

	releases := release.NewManager(store.Releases(), reg, registryAddr, logger)
	keys := key.NewManager(store.Keys(), disc, logger)
	orc := app.New(store, releases, disc, logger)

	issuer := auth.NewIssuer(conf.AuthSecret, tokenLifetime)

	// handlers
	e.POST("/api/token", handlers.IssueTokenHandler(issuer, conf.AuthSecret))

	api := e.Group("/api", auth.Middleware(issuer))
	{
		id := "id"
		api.POST("/apps", handlers.CreateAppHandler(orc))
		api.GET("/apps", handlers.ListAppsHandler(store.Apps()))
		api.GET("/apps/:id", handlers.GetAppHandler(store.Apps(), id))
		api.DELETE("/apps/:id", handlers.DeleteAppHandler(orc, store.Apps(), id))

		api.POST("/apps/:id/scale", handlers.ScaleAppHandler(orc, store.Apps(), id))
		api.POST("/apps/:id/run", handlers.RunCommandHandler(orc, store.Apps(), id))
		api.GET("/apps/:id/containers", handlers.ListContainersHandler(store.Containers(), id))

		api.POST("/apps/:id/releases", handlers.DeployHandler(orc, store.Apps(), id))
		api.GET("/apps/:id/releases", handlers.ListReleasesHandler(store.Releases(), id))
		api.GET("/apps/:id/releases/:version", handlers.GetReleaseHandler(store.Releases(), id, "version"))
		api.POST("/apps/:id/rollback", handlers.RollbackHandler(releases, orc, store.Apps(), id))

		api.POST("/apps/:id/domains", handlers.AddDomainHandler(orc, store.Apps(), id))
		api.GET("/apps/:id/domains", handlers.ListDomainsHandler(store.Domains(), id))
		api.DELETE("/domains/:domain", handlers.RemoveDomainHandler(orc, "domain"))

		api.POST("/keys", handlers.AddKeyHandler(keys))
		api.GET("/keys", handlers.ListKeysHandler(keys))
		api.DELETE("/keys/:keyid", handlers.DeleteKeyHandler(keys, "keyid"))
	}

	log.Println("registred routes:")
	for _, r := range e.Routes() {
		log.Println(r.Method, r.Path)
	}

	e.Logger.Fatal(e.Start(":" + conf.ServerPort))
}

func getStore(ctx context.Context, dburi string) (kdb.Store, error) {
	if dburi == "" {
		return dbmock.New(), nil
	}
	return kpg.New(ctx, dburi)
}
