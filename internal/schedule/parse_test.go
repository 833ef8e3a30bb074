package schedule

import (
	"reflect"
	"testing"
	"time"
)

func TestParseLineVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		line string
		want Job
	}{
		{
			name: "plain defaults",
			line: "0 9 * * 1-5  morning-brief  Summarize open items",
			want: Job{Expr: "0 9 * * 1-5", Name: "morning-brief", Task: "Summarize open items", Channel: "general", Timeout: 15 * time.Minute},
		},
		{
			name: "explicit channel flag",
			line: "0 9 * * 1-5  morning-brief  channel:general  Summarize open items",
			want: Job{Expr: "0 9 * * 1-5", Name: "morning-brief", Task: "Summarize open items", Channel: "general", Timeout: 15 * time.Minute},
		},
		{
			name: "all flags any order",
			line: "*/10 * * * *  sweep  disabled timeout:5 channel:ops  clean the queue",
			want: Job{Expr: "*/10 * * * *", Name: "sweep", Task: "clean the queue", Channel: "ops", Timeout: 5 * time.Minute, Disabled: true},
		},
		{
			name: "name that looks like a flag",
			line: "* * * * *  disabled  do the thing",
			want: Job{Expr: "* * * * *", Name: "disabled", Task: "do the thing", Channel: "general", Timeout: 15 * time.Minute},
		},
		{
			name: "unusable timeout value starts the task",
			line: "* * * * *  j1  timeout:soon after lunch",
			want: Job{Expr: "* * * * *", Name: "j1", Task: "timeout:soon after lunch", Channel: "general", Timeout: 15 * time.Minute},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			jobs, skipped := Parse([]byte(tt.line + "\n"))
			if len(skipped) != 0 {
				t.Fatalf("skipped = %v, want none", skipped)
			}
			if len(jobs) != 1 {
				t.Fatalf("jobs = %d, want 1", len(jobs))
			}
			if !reflect.DeepEqual(jobs[0], tt.want) {
				t.Fatalf("job = %+v, want %+v", jobs[0], tt.want)
			}
		})
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	t.Parallel()
	data := `# comment

0 9 * * 1-5  ok-job  do something
short line
* * * * *  flags-only  disabled
`
	jobs, skipped := Parse([]byte(data))
	if len(jobs) != 1 || jobs[0].Name != "ok-job" {
		t.Fatalf("jobs = %+v, want just ok-job", jobs)
	}
	if !reflect.DeepEqual(skipped, []int{4, 5}) {
		t.Fatalf("skipped = %v, want [4 5]", skipped)
	}
}

func TestFormatOmitsDefaults(t *testing.T) {
	t.Parallel()
	jobs := []Job{
		{Expr: "0 9 * * 1-5", Name: "brief", Task: "summarize", Channel: "general", Timeout: 15 * time.Minute},
		{Expr: "*/5 * * * *", Name: "poll", Task: "poll feeds", Channel: "ops", Timeout: 5 * time.Minute, Disabled: true},
	}
	got := string(Format(jobs))
	want := "0 9 * * 1-5  brief  summarize\n*/5 * * * *  poll  channel:ops  timeout:5  disabled  poll feeds\n"
	if got != want {
		t.Fatalf("Format =\n%q\nwant\n%q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	jobs := []Job{
		{Expr: "0 9 * * 1-5", Name: "brief", Task: "Summarize open items"},
		{Expr: "30 22 * * *", Name: "night", Task: "wind down", Channel: "quiet", Timeout: 30 * time.Minute},
		{Expr: "0 0 13 * 5", Name: "spooky", Task: "check the basement", Disabled: true},
	}
	for i := range jobs {
		jobs[i] = jobs[i].Normalize()
	}

	got, skipped := Parse(Format(jobs))
	if len(skipped) != 0 {
		t.Fatalf("skipped = %v, want none", skipped)
	}
	if !reflect.DeepEqual(got, jobs) {
		t.Fatalf("round trip = %+v, want %+v", got, jobs)
	}
}
