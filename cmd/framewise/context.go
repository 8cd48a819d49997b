package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"framewise/internal/api"
	"framewise/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(flagValue(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiAddress() string {
	if bind := flagValue(c.apiFlag); bind != "" {
		return bind
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.Paths.APIBind
	}
	return ""
}

func (c *commandContext) apiToken() string {
	if token := flagValue(c.tokenFlag); token != "" {
		return token
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.Paths.APIToken
	}
	return ""
}

// withClient runs fn against the daemon API and rewrites connection
// failures into a hint about starting the daemon.
func (c *commandContext) withClient(fn func(*api.Client) error) error {
	address := c.apiAddress()
	client, err := api.NewClient(address, c.apiToken())
	if err != nil {
		return fmt.Errorf("connect to daemon: %w (set paths.api_bind or pass --api)", err)
	}
	if err := fn(client); err != nil {
		if api.IsAPIUnavailable(err) {
			return fmt.Errorf("connect to daemon: API at %s unavailable; start the daemon with `framewise daemon run`", address)
		}
		return err
	}
	return nil
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
