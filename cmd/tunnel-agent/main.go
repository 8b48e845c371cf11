package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/datawire/tunnel-launcher/pkg/dtunnel"
	"github.com/datawire/tunnel-launcher/pkg/relay"
	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
	"github.com/datawire/tunnel-launcher/pkg/tunnelstate"
)

const processName = "tunnel-agent"

// unimplementedHost is the integration point a production build replaces
// with a concrete relay.Host backed by the relay transport library (spec.md
// §1/§6: the wire protocol is delegated to an external collaborator, out of
// scope for this core).
type unimplementedHost struct{}

func (unimplementedHost) Connect(context.Context, string) (relay.Handle, error) {
	return nil, fmt.Errorf("no relay transport linked into this build")
}
func (unimplementedHost) AddPortTCP(context.Context, relay.PortSpec) error {
	return fmt.Errorf("no relay transport linked into this build")
}
func (unimplementedHost) AddPortDirect(context.Context, relay.PortSpec) (<-chan relay.ForwardedPortConnection, error) {
	return nil, fmt.Errorf("no relay transport linked into this build")
}
func (unimplementedHost) RemovePort(context.Context, int) error { return nil }
func (unimplementedHost) Unregister(context.Context) error      { return nil }

func main() {
	ctx := makeBaseLogger(context.Background())
	ctx = dgroup.WithGoroutineName(ctx, "/"+processName)

	var (
		preferredName string
		useRandomName bool
		baseURL       string
		stateFile     string
		bearerToken   string
	)

	cmd := &cobra.Command{
		Use:  processName,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(ctx, runArgs{
				preferredName: preferredName,
				useRandomName: useRandomName,
				baseURL:       baseURL,
				stateFile:     stateFile,
				bearerToken:   bearerToken,
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&preferredName, "name", "", "preferred tunnel name")
	flags.BoolVar(&useRandomName, "random-name", false, "skip the interactive name prompt")
	flags.StringVar(&baseURL, "api-base-url", "https://global.rel.tunnels.api.visualstudio.com", "management API base URL")
	flags.StringVar(&stateFile, "state-file", "code_tunnel.json", "path to the persisted tunnel identity file")
	flags.StringVar(&bearerToken, "token", os.Getenv("TUNNEL_LAUNCHER_TOKEN"), "account bearer token for the management API")

	if err := cmd.ExecuteContext(ctx); err != nil {
		dlog.Errorf(ctx, "%v", err)
		os.Exit(1)
	}
}

type runArgs struct {
	preferredName string
	useRandomName bool
	baseURL       string
	stateFile     string
	bearerToken   string
}

func run(ctx context.Context, args runArgs) error {
	cfg, err := dtunnel.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client := tunnelapi.New(args.baseURL, cfg.UserAgent).
		WithAuthorization(tunnelapi.Authorization{Scheme: "Bearer", Token: args.bearerToken})
	state := tunnelstate.NewStore(args.stateFile)

	hostFactory := func(tunnelapi.Locator, *tunnelapi.Client) relay.Host { return unimplementedHost{} }
	tunnels := dtunnel.New(client, state, hostFactory, cfg)

	tunnel, err := tunnels.StartNewLauncherTunnel(ctx, args.preferredName, args.useRandomName, nil)
	if err != nil {
		return fmt.Errorf("starting tunnel: %w", err)
	}

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	g.Go("shutdown", func(ctx context.Context) error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigs:
			dlog.Infof(ctx, "shutting down due to signal %v", sig)
		case <-ctx.Done():
		}
		tunnel.Close(context.Background())
		return nil
	})

	endpoint, err := tunnel.GetPortURI(ctx, cfg.ControlPort)
	if err != nil {
		dlog.Errorf(ctx, "tunnel %s (%s) failed to publish an endpoint: %v", tunnel.Name, tunnel.ID, err)
	} else {
		dlog.Infof(ctx, "tunnel %s (%s) is live at %s", tunnel.Name, tunnel.ID, endpoint)
	}

	return g.Wait()
}
