package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pricewise/analytics"
	"pricewise/config"
	"pricewise/database"
	"pricewise/handlers"
	"pricewise/matcher"
	"pricewise/middleware"
	"pricewise/orchestrator"
	"pricewise/pricing"
	"pricewise/recommend"
	"pricewise/repository"
	"pricewise/scheduler"
	"pricewise/scraper"
	"pricewise/services"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	sites, err := config.LoadCatalog(cfg.SitesFile)
	if err != nil {
		log.Fatalf("Failed to load site catalog: %v", err)
	}
	if err := cfg.ValidateCatalog(sites); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("✅ Loaded %d sites across %d regions", len(sites.AllSites()), len(sites.RegionNames()))

	// Analytics store
	store, closeStore := openStore(cfg)
	defer closeStore()
	events := analytics.NewLog(store)
	defer events.Wait()

	// Scrapers
	httpClient := &http.Client{Timeout: cfg.ScraperTimeout}
	var browser scraper.Fetcher
	if cfg.BrowserEnabled {
		b, err := scraper.NewBrowserFetcher(cfg.ChromeBin, cfg.UserAgent)
		if err != nil {
			log.Printf("⚠️  Browser unavailable, rendered sites fall back to plain HTTP: %v", err)
		} else {
			defer b.Close()
			browser = b
		}
	}
	registry := scraper.NewRegistry(scraper.NewHTTPFetcher(httpClient, cfg.UserAgent), browser, cfg.ResultsPerSite)

	// Currency conversion
	static := pricing.NewStaticRates(config.RatesBase, sites.Rates)
	var converter pricing.Converter = static
	var rates scheduler.RateRefresher
	if cfg.RatesURL != "" {
		live := pricing.NewHTTPRates(cfg.RatesURL, &http.Client{Timeout: 15 * time.Second}, static)
		converter, rates = live, live
	}

	// Pipeline
	products, err := recommend.NewCatalog(cfg.CacheMaxKeys*20, cfg.CatalogTTL)
	if err != nil {
		log.Fatalf("Failed to create product catalog: %v", err)
	}
	search, err := services.NewSearchService(services.SearchDeps{
		Regions:      sites,
		Adapters:     services.CatalogAdapters{Catalog: sites, Registry: registry},
		Orchestrator: orchestrator.New(events),
		Matcher:      matcher.New(cfg.MatchOptions()),
		Prices:       pricing.NewEngine(converter),
		Products:     products,
		Recorder:     events,
		CacheTTL:     cfg.CacheTTL,
		CacheMaxKeys: cfg.CacheMaxKeys,
	})
	if err != nil {
		log.Fatalf("Failed to create search service: %v", err)
	}
	recommender := recommend.NewEngine(store, products, cfg.RecommendOptions())

	geo, err := services.NewGeoIPService(cfg.GeoIPURL, cfg.DefaultCountry, nil)
	if err != nil {
		log.Fatalf("Failed to create geolocation service: %v", err)
	}

	// Housekeeping
	var warmer *scheduler.Warmer
	if cfg.WarmTopQueries > 0 {
		warmer = scheduler.NewWarmer(search, cfg.ScrapePolicy(), cfg.WarmWorkers, cfg.WarmTopQueries*(len(sites.RegionNames())+1))
	}
	maintainer := scheduler.NewMaintainer(scheduler.MaintainerDeps{
		Search:  search,
		Catalog: products,
		Rates:   rates,
		Stats:   events,
		Trends:  recommender,
		Warmer:  warmer,
		Regions: sites.RegionNames(),
		WarmTop: cfg.WarmTopQueries,
		Schedule: scheduler.Schedule{
			Sweep:  cfg.SweepSchedule,
			Rates:  cfg.RatesRefresh,
			Digest: cfg.DigestSchedule,
			Warm:   cfg.WarmSchedule,
		},
	})
	if err := maintainer.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer maintainer.Stop()

	h := handlers.NewHandlers(handlers.Deps{
		Search:       search,
		Recommender:  recommender,
		Analytics:    events,
		Autocomplete: services.NewAutocompleteService(recommender, events),
		Locator:      geo,
		Products:     products,
		Warmer:       warmer,
		Config:       cfg,
		Version:      version,
	})

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.Standard(cfg.RateLimitPerSecond)...)
	h.Register(r)
	h.Register(r.PathPrefix("/api").Subrouter())

	if cfg.AdminSecret == "" {
		log.Println("⚠️  ADMIN_SECRET is not set, admin routes are open")
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Search-Outcome", "X-Search-Failed-Sources", "X-Search-Cached", "X-Cold-Start"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.ScraperTimeout + cfg.Grace + 15*time.Second,
	}

	go func() {
		log.Printf("🌐 Server starting on %s", srv.Addr)
		log.Printf("📋 API:")
		log.Printf("   POST /search - Compare prices across stores")
		log.Printf("   POST /search/detailed - Products, sources and best deals")
		log.Printf("   GET  /recommendations/trending - Trending products")
		log.Printf("   GET  /recommendations/personalized - Products for the caller")
		log.Printf("   GET  /analytics/search-stats - Search statistics")
		log.Printf("   GET  /admin/scrapers - Scraper status")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("❌ Graceful shutdown failed: %v", err)
	}
}

// openStore picks the analytics backend for DATABASE_DRIVER
func openStore(cfg *config.Config) (analytics.Store, func()) {
	if cfg.DatabaseDriver == "memory" {
		log.Println("⚠️  Using in-memory analytics store, history is lost on restart")
		return analytics.NewMemoryStore(), func() {}
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.CreateTables(ctx); err != nil {
		db.Close()
		log.Fatalf("Failed to create tables: %v", err)
	}
	return repository.NewAnalyticsStore(db), func() {
		if err := db.Close(); err != nil {
			log.Printf("❌ Failed to close database: %v", err)
		}
	}
}
