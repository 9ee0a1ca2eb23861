package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/stoik/mailroom/internal/mockprovider"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	opts := []mockprovider.Option{
		mockprovider.WithPageSize(envInt("PAGE_SIZE", 50)),
		mockprovider.WithReadyAfter(envInt("READY_AFTER", 3)),
	}
	if token := os.Getenv("PROVIDER_TOKEN"); token != "" {
		opts = append(opts, mockprovider.WithToken(token))
	}

	mb := mockprovider.NewMailbox(opts...)
	if seed := envInt("SEED_EMAILS", 200); seed > 0 {
		mb.Generate(getenv("SEED_OWNER", "me@example.com"), seed)
	}

	gin.SetMode(gin.ReleaseMode)
	r := mockprovider.NewRouter(mb)

	addr := fmt.Sprintf(":%s", port)
	log.Info().Str("addr", addr).Msg("starting mock provider API server")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("mock provider stopped")
	}
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
