package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-api/api"
	"todo-api/domain"
	"todo-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	todosTableName := os.Getenv("TODOS_TABLE")
	eventsQueueName := os.Getenv("EVENTS_QUEUE")
	if connStr == "" || todosTableName == "" || eventsQueueName == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, todosTableName, eventsQueueName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var todoStore domain.Storage = store
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(parseRedisOptions(redisConn))
		ttl := 5 * time.Minute
		if v := os.Getenv("CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid CACHE_TTL: %v", err)
			}
			ttl = d
		}
		todoStore = storage.NewCache(store, rc, ttl)
	}

	testMode := os.Getenv("AUTH0_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domainName := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domainName == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domainName)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domainName+"/")
	}

	logger := log.New()
	svc := domain.NewTodoService(todoStore, store, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, svc, auth, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// parseRedisOptions accepts either a redis URL or the comma-separated
// "host:port,password=...,ssl=true" form some managed caches hand out.
func parseRedisOptions(redisConn string) *redis.Options {
	opts, err := redis.ParseURL(redisConn)
	if err == nil {
		return opts
	}
	parts := strings.Split(redisConn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
