package checks

import (
	"context"
	"fmt"
	"sort"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	logx "vigil/pkg/logx"
)

// BandwidthConfig tunes the optional speedtest check.
type BandwidthConfig struct {
	// MinDownloadMbps fails the check below this floor. Zero means
	// any successful measurement passes.
	MinDownloadMbps float64
}

// Bandwidth measures the link against the nearest speedtest server.
// It is expensive, so it should be registered with a tide pace and a
// budget of a couple of minutes.
type Bandwidth struct {
	cfg BandwidthConfig
	log logx.Logger
}

func NewBandwidth(cfg BandwidthConfig, log logx.Logger) *Bandwidth {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bandwidth{cfg: cfg, log: log}
}

func (b *Bandwidth) Name() string { return "bandwidth" }

func (b *Bandwidth) Run(ctx context.Context) Result {
	start := time.Now()
	fail := func(format string, args ...any) Result {
		return Result{
			Name:    b.Name(),
			OK:      false,
			Message: fmt.Sprintf(format, args...),
			Took:    time.Since(start),
		}
	}

	// Per-instance client; the package-level helpers keep state.
	stc := st.New()
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return fail("fetch server list: %v", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return fail("no speedtest servers available")
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	srv := servers[0]

	if err := srv.PingTestContext(ctx, nil); err != nil {
		return fail("ping %s: %v", srv.Host, err)
	}
	if err := srv.DownloadTestContext(ctx); err != nil {
		return fail("download test: %v", err)
	}
	if err := srv.UploadTestContext(ctx); err != nil {
		return fail("upload test: %v", err)
	}

	down := srv.DLSpeed.Mbps()
	up := srv.ULSpeed.Mbps()
	res := Result{
		Name: b.Name(),
		OK:   true,
		Took: time.Since(start),
		Data: map[string]any{
			"down_mbps": down,
			"up_mbps":   up,
			"ping_ms":   float64(srv.Latency.Milliseconds()),
			"server":    srv.Sponsor,
		},
	}
	if b.cfg.MinDownloadMbps > 0 && down < b.cfg.MinDownloadMbps {
		res.OK = false
		res.Message = fmt.Sprintf("download %.1f Mbps below %.1f Mbps floor", down, b.cfg.MinDownloadMbps)
		return res
	}
	res.Message = fmt.Sprintf("down %.1f Mbps, up %.1f Mbps, ping %dms", down, up, srv.Latency.Milliseconds())
	return res
}
