package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/onnwee/live-recorder/app"
	"github.com/onnwee/live-recorder/config"
	"github.com/onnwee/live-recorder/cookies"
	"github.com/onnwee/live-recorder/douyinapi"
)

type commandContext struct {
	serverFlag *string
	tokenFlag  *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(serverFlag, tokenFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		tokenFlag:  tokenFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) serverURL() string {
	if c.serverFlag != nil {
		if s := strings.TrimSpace(*c.serverFlag); s != "" {
			return strings.TrimRight(s, "/")
		}
	}
	return defaultServerURL(os.Getenv("LIVEREC_SERVER"), os.Getenv("HTTP_ADDR"))
}

func (c *commandContext) token() string {
	if c.tokenFlag != nil && *c.tokenFlag != "" {
		return *c.tokenFlag
	}
	return os.Getenv("ADMIN_TOKEN")
}

func (c *commandContext) api() *apiClient {
	return newAPIClient(c.serverURL(), c.token())
}

// defaultServerURL resolves the API base when --server is not given.
func defaultServerURL(env, addr string) string {
	if env = strings.TrimSpace(env); env != "" {
		return strings.TrimRight(env, "/")
	}
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// platform builds a platform client from the local browser profile. With
// requireCredentials unset a missing master key degrades to anonymous
// requests and a warning on warn.
func (c *commandContext) platform(ctx context.Context, requireCredentials bool, warn func(string)) (*douyinapi.Client, *cookies.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	store, _, err := app.LoadCredentials(ctx, cfg)
	if err != nil {
		if requireCredentials {
			return nil, nil, err
		}
		warn(fmt.Sprintf("continuing without credentials: %v", err))
		store = cookies.NewStore(nil)
	}
	client, err := app.NewClient(cfg, store)
	if err != nil {
		return nil, nil, err
	}
	warmCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	defer cancel()
	if err := client.Warmup(warmCtx); err != nil {
		warn("warm-up incomplete")
	}
	return client, store, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
