// Package dashboard renders a live statistics feed in the terminal.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/tickstat/internal/metrics"
)

const historyLen = 100

// Source delivers closed interval snapshots, typically a feed client.
type Source interface {
	Next(ctx context.Context) (metrics.Snapshot, error)
}

// Target describes the feed being watched, for display only.
type Target struct {
	URL  string
	Type string
}

// Dashboard renders a live terminal UI for a statistics feed.
type Dashboard struct {
	source       Source
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	// Widgets
	grid           *ui.Grid
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	rpsGauge       *widgets.Gauge
	statusList     *widgets.List
	endpointList   *widgets.List
	summaryPara    *widgets.Paragraph
	levelsPara     *widgets.Paragraph

	state     *feedState
	feedErr   error
	startTime time.Time
	target    Target
}

// New initializes the terminal and builds the widgets. shutdownFunc is called
// when the user quits or the feed ends.
func New(source Source, target Target, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		source:       source,
		ctx:          ctx,
		cancel:       cancel,
		shutdownFunc: shutdownFunc,
		state:        newFeedState(),
		startTime:    time.Now(),
		target:       target,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "Mean response time (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Response Times"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Last Interval"
	d.latencyPara.Text = "Waiting for data..."
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.rpsGauge = widgets.NewGauge()
	d.rpsGauge.Title = "Requests Per Second"
	d.rpsGauge.BarColor = ui.ColorBlue
	d.rpsGauge.BorderStyle.Fg = ui.ColorCyan
	d.rpsGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.statusList = widgets.NewList()
	d.statusList.Title = "Status Codes"
	d.statusList.Rows = []string{"Awaiting data"}
	d.statusList.BorderStyle.Fg = ui.ColorCyan

	d.endpointList = widgets.NewList()
	d.endpointList.Title = "Endpoints"
	d.endpointList.Rows = []string{"Awaiting data"}
	d.endpointList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.endpointList.BorderStyle.Fg = ui.ColorCyan

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Feed"
	d.summaryPara.Text = "Connecting..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.levelsPara = widgets.NewParagraph()
	d.levelsPara.Title = "Connections / Memory"
	d.levelsPara.Text = "Waiting for data..."
	d.levelsPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.18,
			ui.NewCol(0.5, d.rpsGauge),
			ui.NewCol(0.5, d.levelsPara),
		),
		ui.NewRow(0.3,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.38,
			ui.NewCol(0.65, d.endpointList),
			ui.NewCol(0.35, d.statusList),
		),
	)
}

// Start begins reading the feed and refreshing the screen.
func (d *Dashboard) Start() {
	d.wg.Add(2)
	go d.consume()
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// Err returns the error that ended the feed, if any. A feed stopped by Stop
// reports nil.
func (d *Dashboard) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if errors.Is(d.feedErr, context.Canceled) {
		return nil
	}
	return d.feedErr
}

func (d *Dashboard) consume() {
	defer d.wg.Done()
	for {
		snap, err := d.source.Next(d.ctx)
		if err != nil {
			d.mu.Lock()
			d.feedErr = err
			d.mu.Unlock()
			if d.ctx.Err() == nil && d.shutdownFunc != nil {
				d.shutdownFunc()
			}
			return
		}
		d.mu.Lock()
		d.state.apply(snap)
		d.mu.Unlock()
	}
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop cancels the context.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

// update refreshes every widget from the feed state.
func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.state
	d.summaryPara.Text = d.formatSummary()

	if len(s.latency) > 0 {
		d.latencySparkle.Sparklines[0].Data = s.latency
	}
	if times, ok := s.latest[metrics.TypeTimes]; ok {
		d.latencySparkle.Title = fmt.Sprintf("Response Times | Mean: %s | Max: %s",
			formatMicros(times.Mean), formatMicros(float64(times.Max)))
		d.latencyPara.Text = formatTimes(times)
	}

	rps := 0.0
	if n := len(s.rps); n > 0 {
		rps = s.rps[n-1]
	}
	d.rpsGauge.Percent = gaugePercent(rps, s.peakRPS)
	d.rpsGauge.Label = fmt.Sprintf("%.1f RPS (peak %.1f)", rps, s.peakRPS)

	d.levelsPara.Text = formatLevels(s.latest[metrics.TypeConnections], s.latest[metrics.TypeMemory])

	if responses, ok := s.latest[metrics.TypeResponses]; ok {
		d.statusList.Rows = formatStatusListRows(responses.Codes)
	}
	if endpoints, ok := s.latest[metrics.TypeEndpoints]; ok {
		d.updateEndpointList(endpoints)
	}
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func (d *Dashboard) formatSummary() string {
	s := d.state
	parts := []string{fmt.Sprintf("Feed: %s", d.target.URL)}
	if d.target.Type != "" {
		parts = append(parts, "Type: "+d.target.Type)
	}
	status := fmt.Sprintf("Watching: %s | Snapshots: %d", time.Since(d.startTime).Round(time.Second), s.received)
	if !s.lastStart.IsZero() {
		status += fmt.Sprintf(" | Last interval: %s (#%d)", s.lastStart.Local().Format(time.TimeOnly), s.lastSeq)
	}
	if d.feedErr != nil {
		status += fmt.Sprintf(" | [Feed ended: %v](fg:red)", d.feedErr)
	}
	return strings.Join(parts, " | ") + "\n" + status
}

func (d *Dashboard) updateEndpointList(snap metrics.Snapshot) {
	if len(snap.Endpoints) == 0 {
		d.endpointList.Rows = []string{"[No requests in the last interval](fg:green)"}
		return
	}
	type endpointRow struct {
		name string
		stat metrics.Stats
	}
	rows := make([]endpointRow, 0, len(snap.Endpoints))
	for name, stat := range snap.Endpoints {
		rows = append(rows, endpointRow{name: name, stat: stat})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].stat.Count == rows[j].stat.Count {
			return rows[i].name < rows[j].name
		}
		return rows[i].stat.Count > rows[j].stat.Count
	})
	formatted := make([]string, 0, len(rows))
	for _, entry := range rows {
		share := 0.0
		if snap.Count > 0 {
			share = (float64(entry.stat.Count) / float64(snap.Count)) * 100
		}
		formatted = append(formatted, fmt.Sprintf("[%s](fg:cyan) | %5.1f%% | n %d | mean %s | max %s",
			entry.name,
			share,
			entry.stat.Count,
			formatMicros(entry.stat.Mean),
			formatMicros(float64(entry.stat.Max)),
		))
	}
	d.endpointList.Rows = formatted
}

func formatStatusListRows(codes map[string]uint64) []string {
	rows := metrics.FlattenStatusCodes(codes)
	if len(rows) == 0 {
		return []string{"[No responses](fg:green)"}
	}
	if len(rows) > 10 {
		rows = rows[:10]
	}
	formatted := make([]string, 0, len(rows))
	for _, row := range rows {
		formatted = append(formatted, fmt.Sprintf("[%s](fg:%s) %d", row.Code, classColor(row.Class), row.Count))
	}
	return formatted
}

func classColor(class string) string {
	switch class {
	case "2xx", "1xx":
		return "green"
	case "3xx":
		return "cyan"
	case "4xx":
		return "yellow"
	default:
		return "red"
	}
}

func formatTimes(s metrics.Snapshot) string {
	if s.Count == 0 {
		return "No responses"
	}
	return fmt.Sprintf("Count: %d\nMin:   %s\nMean:  %s\nP50:   %s\nP90:   %s\nP99:   %s\nMax:   %s",
		s.Count,
		formatMicros(float64(s.Min)),
		formatMicros(s.Mean),
		formatMicros(float64(s.P50)),
		formatMicros(float64(s.P90)),
		formatMicros(float64(s.P99)),
		formatMicros(float64(s.Max)),
	)
}

func formatLevels(conns, memory metrics.Snapshot) string {
	lines := []string{"Connections: n/a", "Memory:      n/a"}
	if conns.Count > 0 {
		lines[0] = fmt.Sprintf("Connections: mean %.1f (min %d, max %d)", conns.Mean, conns.Min, conns.Max)
	}
	if memory.Count > 0 {
		lines[1] = fmt.Sprintf("Memory:      %s (max %s)", formatBytes(memory.Mean), formatBytes(float64(memory.Max)))
	}
	return strings.Join(lines, "\n")
}

// formatMicros renders a microsecond value with a readable unit.
func formatMicros(us float64) string {
	switch {
	case us >= 1_000_000:
		return fmt.Sprintf("%.2fs", us/1_000_000)
	case us >= 1000:
		return fmt.Sprintf("%.2fms", us/1000)
	default:
		return fmt.Sprintf("%.0fµs", us)
	}
}

func formatBytes(b float64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%.0f B", b)
	}
	div, exp := float64(unit), 0
	for n := b / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", b/div, "KMGTP"[exp])
}

func gaugePercent(value, peak float64) int {
	if peak <= 0 {
		return 0
	}
	p := int((value / peak) * 100)
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}

// feedState is everything the dashboard keeps from the feed. It is guarded
// by the dashboard mutex.
type feedState struct {
	latest    map[metrics.MeasurementType]metrics.Snapshot
	latency   []float64 // mean response time per interval, ms
	rps       []float64
	peakRPS   float64
	received  uint64
	lastSeq   uint64
	lastStart time.Time
}

func newFeedState() *feedState {
	return &feedState{latest: make(map[metrics.MeasurementType]metrics.Snapshot)}
}

func (s *feedState) apply(snap metrics.Snapshot) {
	s.received++
	s.latest[snap.Type] = snap
	if snap.Seq >= s.lastSeq {
		s.lastSeq = snap.Seq
		s.lastStart = snap.Start
	}

	switch snap.Type {
	case metrics.TypeTimes:
		s.latency = appendBounded(s.latency, snap.Mean/1000)
	case metrics.TypeRequests:
		rps := 0.0
		if snap.Duration > 0 {
			rps = float64(snap.Count) / snap.Duration.Seconds()
		}
		s.rps = appendBounded(s.rps, rps)
		if rps > s.peakRPS {
			s.peakRPS = rps
		}
	}
}

func appendBounded(values []float64, v float64) []float64 {
	values = append(values, v)
	if len(values) > historyLen {
		values = values[len(values)-historyLen:]
	}
	return values
}
