package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/siteforge-ops/siteforge-backend/internal/application"
	"github.com/siteforge-ops/siteforge-backend/internal/application/commands"
	"github.com/siteforge-ops/siteforge-backend/internal/application/query"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/bundle"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/compute"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/config"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db/repo"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/dns"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/remote"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/storage"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/vhost"
	"github.com/siteforge-ops/siteforge-backend/internal/presentation/rest"
	"github.com/siteforge-ops/siteforge-backend/internal/presentation/scheduler"
	"github.com/siteforge-ops/siteforge-backend/pkg/db"
	"github.com/siteforge-ops/siteforge-backend/pkg/env"
)

func Init() {
	// DB
	dbConfig := db.NewConfig()
	pool, err := pgxpool.New(context.Background(), dbConfig.GetDSN())
	if err != nil {
		log.Panicf("failed to create pool: %v", err)
	}
	err = pool.Ping(context.Background())
	if err != nil {
		log.Panicf("failed to connect to db: %v", err)
	}
	uowFactory := db.NewUoWFactory(pool)

	// Configs
	provisionConfig := config.NewProvisionConfig()
	domainContact := dns.NewDomainContact()
	workerConfig := scheduler.NewWorkerConfig()

	// AWS
	cfg, err := awsConfig.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Panic("can't load aws config", err)
	}
	s3 := storage.NewStorage(cfg)
	dnsProvisioner := dns.NewDNSProvisioner(cfg, domainContact)

	// Cloud + SSH
	cloud := compute.NewClient(provisionConfig.ServerType, provisionConfig.Location, provisionConfig.PollInterval)
	gateway := remote.NewGateway()
	activator := vhost.NewActivator(gateway)
	fetcher := bundle.NewFetcher()

	// Repos
	sites := repo.NewSiteRepo(uowFactory)
	activity := repo.NewActivityRepo(uowFactory)
	images := repo.NewImageRepo(uowFactory)
	taskq := repo.NewTaskRepo(uowFactory)
	leases := repo.NewLeaseRepo(uowFactory)

	provisioner := commands.NewServerProvisioner(provisionConfig, sites, activity, images, cloud, gateway)

	handlers := &application.Collection{
		CreateSite:       commands.NewCreateSite(sites, activity),
		UploadBundle:     commands.NewUploadBundle(sites, activity, fetcher, s3),
		SetDomain:        commands.NewSetDomain(sites, activity, dnsProvisioner),
		ConfigureDomain:  commands.NewConfigureDomain(provisionConfig, sites, activity, dnsProvisioner, activator, provisioner),
		DeploySite:       commands.NewDeploySite(provisionConfig, sites, activity, s3, gateway, provisioner),
		BakeImage:        commands.NewBakeImage(provisionConfig, images, taskq, cloud, gateway),
		DeleteSite:       commands.NewDeleteSite(sites, s3, cloud),
		EnqueueTask:      commands.NewEnqueueTask(taskq),
		GetSite:          query.NewGetSite(provisionConfig, sites),
		CheckDomain:      query.NewCheckDomain(dnsProvisioner),
		SearchDomain:     query.NewSearchDomain(dnsProvisioner),
		CheckPropagation: query.NewCheckPropagation(provisionConfig, sites),
		GetActivity:      query.NewGetActivity(activity),
		GetTask:          query.NewGetTask(taskq),
	}

	worker := scheduler.NewWorker(handlers, taskq, leases, workerConfig)
	handler := rest.NewServer(handlers, worker, taskq)
	app := fiber.New(fiber.Config{
		IdleTimeout: 5 * time.Second,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins:     env.GetEnv("CORS_ORIGINS", "http://localhost:3000"),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))
	rest.RegisterHandlers(app, handler)

	go worker.Start()

	go func() {
		if err := app.Listen(":8080"); err != nil {
			log.Panic(err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	fmt.Println("Gracefully shutting down...")
	_ = app.Shutdown()
	worker.Stop()

	uowFactory.Pool.Close()
	fmt.Println("Fiber was successfully shutdown.")
}
