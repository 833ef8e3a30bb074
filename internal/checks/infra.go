package checks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	logx "vigil/pkg/logx"
	"vigil/pkg/systemd"
)

// InfraConfig tunes the infrastructure check.
type InfraConfig struct {
	// Services maps a dependency name to a probe target: an http(s)
	// URL that answers < 400 when the dependency is up, or
	// "unit:<name>" for a local systemd unit that must be active.
	Services map[string]string
	// DiskPath is the mount to watch (default "/").
	DiskPath string
	// DiskThresholdPct marks the disk failed at this used% (default 85).
	DiskThresholdPct int
	// ProbeTimeout bounds each probe (default 5s).
	ProbeTimeout time.Duration
}

// Infra probes named dependencies and disk headroom.
type Infra struct {
	cfg InfraConfig
	hc  *http.Client
	log logx.Logger
}

func NewInfra(cfg InfraConfig, log logx.Logger) *Infra {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.DiskThresholdPct <= 0 {
		cfg.DiskThresholdPct = 85
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Infra{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.ProbeTimeout},
		log: log,
	}
}

func (i *Infra) Name() string { return "infra" }

func (i *Infra) Run(ctx context.Context) Result {
	start := time.Now()

	var (
		mu   sync.Mutex
		down []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for name, target := range i.cfg.Services {
		name, target := name, target
		g.Go(func() error {
			if !i.probe(gctx, target) {
				mu.Lock()
				down = append(down, name)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(down)

	diskPct, diskOK := diskUsedPct(i.cfg.DiskPath)

	data := map[string]any{
		DataDown: down,
	}
	var problems []string
	if len(down) > 0 {
		problems = append(problems, "down: "+strings.Join(down, ", "))
	}
	if diskOK {
		data[DataDiskPct] = diskPct
		if diskPct >= i.cfg.DiskThresholdPct {
			problems = append(problems, fmt.Sprintf("disk %d%% (threshold %d%%)", diskPct, i.cfg.DiskThresholdPct))
		}
	}

	res := Result{
		Name: i.Name(),
		OK:   len(problems) == 0,
		Took: time.Since(start),
		Data: data,
	}
	if len(problems) > 0 {
		res.Message = strings.Join(problems, "; ")
		return res
	}
	if diskOK {
		res.Message = fmt.Sprintf("%d service(s) up, disk %d%%", len(i.cfg.Services), diskPct)
	} else {
		res.Message = fmt.Sprintf("%d service(s) up", len(i.cfg.Services))
	}
	return res
}

// probe treats any HTTP status below 400, or an active unit, as up.
func (i *Infra) probe(ctx context.Context, target string) bool {
	pctx, cancel := context.WithTimeout(ctx, i.cfg.ProbeTimeout)
	defer cancel()

	if unit, ok := strings.CutPrefix(target, "unit:"); ok {
		active, err := systemd.IsActive(pctx, unit)
		if err != nil {
			i.log.Debug("unit probe failed", logx.String("unit", unit), logx.Err(err))
			return false
		}
		return active
	}

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	resp, err := i.hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode < 400
}
