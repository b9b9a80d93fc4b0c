package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/torosent/tickstat/internal/metrics"
)

// PrintSummary outputs a human-readable statistics report.
func PrintSummary(w io.Writer, s metrics.Summary) {
	fmt.Fprintln(w, "\n--- Server Statistics ---")
	fmt.Fprintf(w, "Started:           %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Uptime:            %s\n", (time.Duration(s.UptimeSeconds * float64(time.Second))).Round(time.Second))
	fmt.Fprintf(w, "Interval:          %gs\n", s.Interval)
	if !s.LastInterval.IsZero() {
		fmt.Fprintf(w, "Last Interval:     %s\n", s.LastInterval.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Requests:          %d\n", s.Requests)
	fmt.Fprintf(w, "Responses:         %d\n", s.Responses)
	fmt.Fprintf(w, "In Flight:         %d\n", s.InFlight)
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", s.RequestsPerSec)
	fmt.Fprintf(w, "Bytes Sent:        %d\n", s.Bytes)
	fmt.Fprintf(w, "Open Connections:  %d\n", s.Connections)
	if s.MemoryBytes != nil {
		fmt.Fprintf(w, "Memory:            %d bytes\n", *s.MemoryBytes)
	} else {
		fmt.Fprintln(w, "Memory:            n/a")
	}
	fmt.Fprintf(w, "Live Subscribers:  %d\n", s.Subscribers)
	fmt.Fprintf(w, "Queue:             %d/%d (dropped %d, malformed %d)\n",
		s.QueueDepth, s.QueueCapacity, s.DroppedEvents, s.MalformedEvents)

	if len(s.Times) > 0 {
		fmt.Fprintln(w, "\nResponse Times:")
		for _, name := range periodNames(s.Times) {
			st := s.Times[name]
			fmt.Fprintf(w, "  %-8s n=%d min=%s mean=%s max=%s\n",
				name, st.Count, micros(float64(st.Min)), micros(st.Mean), micros(float64(st.Max)))
		}
	}

	if len(s.ConnectionLevels) > 0 {
		fmt.Fprintln(w, "\nConnections:")
		for _, name := range periodNames(s.ConnectionLevels) {
			st := s.ConnectionLevels[name]
			fmt.Fprintf(w, "  %-8s min=%d mean=%.1f max=%d\n", name, st.Min, st.Mean, st.Max)
		}
	}

	if len(s.Memory) > 0 {
		fmt.Fprintln(w, "\nMemory:")
		for _, name := range periodNames(s.Memory) {
			st := s.Memory[name]
			fmt.Fprintf(w, "  %-8s min=%d mean=%.0f max=%d\n", name, st.Min, st.Mean, st.Max)
		}
	}

	if len(s.Codes) > 0 {
		fmt.Fprintln(w, "\nStatus Classes:")
		classes := metrics.StatusClasses(s.Codes)
		names := make([]string, 0, len(classes))
		for class := range classes {
			names = append(names, class)
		}
		sort.Strings(names)
		for _, class := range names {
			fmt.Fprintf(w, "  %s: %d\n", class, classes[class])
		}
		fmt.Fprintln(w, "\nStatus Codes:")
		writeStatusCodes(w, s.Codes, "  ")
	}

	if len(s.Endpoints) > 0 {
		fmt.Fprintln(w, "\nEndpoint Breakdown:")
		for _, name := range endpointsByCount(s.Endpoints) {
			endpoint := s.Endpoints[name]
			share := 0.0
			if s.Responses > 0 {
				share = (float64(endpoint.Count) / float64(s.Responses)) * 100
			}
			fmt.Fprintf(
				w,
				"  - %s: total=%d (%.1f%%), mean=%s, max=%s\n",
				name,
				endpoint.Count,
				share,
				micros(endpoint.Mean),
				micros(float64(endpoint.Max)),
			)
		}
	}
}

// PrintJSON outputs v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeStatusCodes(w io.Writer, codes map[string]uint64, indent string) {
	rows := metrics.FlattenStatusCodes(codes)
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s%s (%s): %d\n", indent, row.Code, row.Class, row.Count)
	}
}

// periodNames orders summary windows by name with the lifetime window last.
func periodNames(periods map[string]metrics.Stats) []string {
	names := make([]string, 0, len(periods))
	for name := range periods {
		if name != metrics.AllPeriod {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := periods[metrics.AllPeriod]; ok {
		names = append(names, metrics.AllPeriod)
	}
	return names
}

func endpointsByCount(endpoints map[string]metrics.Stats) []string {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := endpoints[names[i]].Count, endpoints[names[j]].Count
		if ci == cj {
			return names[i] < names[j]
		}
		return ci > cj
	})
	return names
}

// micros renders a microsecond measurement as a duration.
func micros(us float64) string {
	return time.Duration(us * float64(time.Microsecond)).Round(time.Microsecond).String()
}
