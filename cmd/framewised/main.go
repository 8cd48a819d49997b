// Command framewised runs the framewise daemon with the configuration found
// at $FRAMEWISE_CONFIG or the default locations.
package main

import (
	"context"
	"errors"
	"log"
	"os"

	"framewise/internal/config"
	"framewise/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load(os.Getenv("FRAMEWISE_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("framewised: %v", err)
	}
}
