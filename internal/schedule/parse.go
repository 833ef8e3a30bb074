package schedule

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"time"
)

// Parse decodes the line format. Comment and blank lines are ignored.
// Structurally malformed lines (fewer than seven tokens, or flags that
// leave no task text) are tolerated: they are skipped and their 1-based
// line numbers returned so the caller can log them.
//
// Cron expressions are NOT validated here; the scheduler flags invalid
// ones once at reload so a single bad line never blocks the rest of the
// file.
func Parse(data []byte) ([]Job, []int) {
	var (
		jobs    []Job
		skipped []int
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		job, ok := parseLine(line)
		if !ok {
			skipped = append(skipped, n)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, skipped
}

// parseLine decodes one job line:
//
//	<min> <hour> <dom> <month> <dow>  <name>  [channel:<ch>] [timeout:<minutes>] [disabled]  <task text>
//
// Token six is always the name, even when it looks like a flag. Flags
// are consumed after the name in any order until the first non-flag
// token; the rest of the line is the task text.
func parseLine(line string) (Job, bool) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return Job{}, false
	}

	job := Job{
		Expr:    strings.Join(fields[:5], " "),
		Name:    fields[5],
		Channel: DefaultChannel,
		Timeout: DefaultTimeout,
	}

	rest := fields[6:]
	i := 0
	for ; i < len(rest); i++ {
		ch, minutes, disabled, ok := parseFlag(rest[i])
		if !ok {
			break
		}
		switch {
		case ch != "":
			job.Channel = ch
		case minutes > 0:
			job.Timeout = time.Duration(minutes) * time.Minute
		case disabled:
			job.Disabled = true
		}
	}
	task := strings.Join(rest[i:], " ")
	if task == "" {
		return Job{}, false
	}
	job.Task = task
	return job, true
}

// parseFlag decodes one optional flag token. A token with a flag prefix
// but an unusable value (e.g. "timeout:soon") is not a flag; it starts
// the task text.
func parseFlag(tok string) (channel string, minutes int, disabled bool, ok bool) {
	if v, found := strings.CutPrefix(tok, "channel:"); found {
		if v == "" || strings.ContainsAny(v, " \t") {
			return "", 0, false, false
		}
		return v, 0, false, true
	}
	if v, found := strings.CutPrefix(tok, "timeout:"); found {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return "", 0, false, false
		}
		return "", n, false, true
	}
	if tok == "disabled" {
		return "", 0, true, true
	}
	return "", 0, false, false
}

func isFlagToken(tok string) bool {
	_, _, _, ok := parseFlag(tok)
	return ok
}

// Format renders jobs back into the line format. Flags at their default
// values are omitted, so Parse(Format(jobs)) round-trips normalized jobs.
func Format(jobs []Job) []byte {
	var b bytes.Buffer
	for _, j := range jobs {
		b.WriteString(formatLine(j))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func formatLine(j Job) string {
	j = j.Normalize()
	parts := make([]string, 0, 6)
	parts = append(parts, j.Expr, j.Name)
	if j.Channel != DefaultChannel {
		parts = append(parts, "channel:"+j.Channel)
	}
	if j.Timeout != DefaultTimeout {
		parts = append(parts, "timeout:"+strconv.Itoa(int(j.Timeout/time.Minute)))
	}
	if j.Disabled {
		parts = append(parts, "disabled")
	}
	parts = append(parts, j.Task)
	return strings.Join(parts, "  ")
}
