package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/pipresencemon/internal/history"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/config"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/database"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/logging"
	"github.com/nerrad567/pipresencemon/internal/sensor"
	"github.com/nerrad567/pipresencemon/internal/supervisor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipresencemon.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func mockConfig(t *testing.T, extra string) (cfgPath, mockPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	mockPath = filepath.Join(dir, "gpio_mock")
	if err := os.WriteFile(mockPath, []byte("1\n"), 0o600); err != nil {
		t.Fatalf("writing mock sensor: %v", err)
	}
	dbPath = filepath.Join(dir, "history.db")

	body := fmt.Sprintf(`
site:
  id: test-room
sensor:
  driver: mock
  mock_path: %s
  pin: 4
  poll_period_secs: 1
monitor:
  window_seconds: 5
  initial_active: true
supervisor:
  restart_cmd_wait_time_seconds: 2
  crash_on_repeated_cmd_failure_count: 3
  graceful_stop_timeout_secs: 2
  on_occupancy:
    - cmd: sleep 30
      should_restart_on_crash: true
  on_vacancy:
    - argv: ["sleep", "30"]
database:
  enabled: true
  path: %s
logging:
  level: error
%s`, mockPath, dbPath, extra)

	return writeConfig(t, body), mockPath, dbPath
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain", errors.New("boom"), exitError},
		{"crash loop", &supervisor.CrashLoopError{Command: "x"}, exitCrashLoop},
		{"wrapped crash loop", fmt.Errorf("running: %w", &supervisor.CrashLoopError{}), exitCrashLoop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConfigPathFromEnv(t *testing.T) {
	t.Setenv("PIPRESENCEMON_CONFIG", "")
	if got := configPathFromEnv(); got != defaultConfigPath {
		t.Errorf("default = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("PIPRESENCEMON_CONFIG", "/etc/pipresencemon.yaml")
	if got := configPathFromEnv(); got != "/etc/pipresencemon.yaml" {
		t.Errorf("from env = %q", got)
	}
}

func TestMonitorAndSupervisorConfig(t *testing.T) {
	cfgPath, _, _ := mockConfig(t, "")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Monitor.VacancyTimeoutSeconds = 7

	mc := monitorConfig(cfg)
	if mc.Pin != 4 || mc.PollPeriod != time.Second || mc.WindowSeconds != 5 || !mc.InitialActive {
		t.Errorf("monitorConfig() = %+v", mc)
	}
	if mc.VacancyHoldOff != 7*time.Second {
		t.Errorf("VacancyHoldOff = %v, want 7s", mc.VacancyHoldOff)
	}

	sc := supervisorConfig(cfg)
	if sc.RestartCooldown != 2 || sc.CrashLoopThreshold != 3 || sc.GracefulStopTimeout != 2*time.Second {
		t.Errorf("supervisorConfig() = %+v", sc)
	}
	if len(sc.OnOccupancy) != 1 || strings.Join(sc.OnOccupancy[0].Argv, " ") != "sleep 30" || !sc.OnOccupancy[0].ShouldRestartOnCrash {
		t.Errorf("OnOccupancy = %+v", sc.OnOccupancy)
	}
	if len(sc.OnVacancy) != 1 || len(sc.OnVacancy[0].Argv) != 2 || sc.OnVacancy[0].ShouldRestartOnCrash {
		t.Errorf("OnVacancy = %+v", sc.OnVacancy)
	}
}

func TestOpenSensor(t *testing.T) {
	cfgPath, _, _ := mockConfig(t, "")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	t.Run("mock", func(t *testing.T) {
		r, closeFn, err := openSensor(cfg, nil, logging.Discard())
		if err != nil {
			t.Fatalf("openSensor() error = %v", err)
		}
		defer closeFn()
		if _, ok := r.(*sensor.WatchedFile); !ok {
			t.Errorf("reader = %T, want *sensor.WatchedFile", r)
		}
	})

	t.Run("sysfs", func(t *testing.T) {
		c := *cfg
		c.Sensor.Driver = config.SensorDriverSysfs
		r, closeFn, err := openSensor(&c, nil, logging.Discard())
		if err != nil {
			t.Fatalf("openSensor() error = %v", err)
		}
		if err := closeFn(); err != nil {
			t.Errorf("close error = %v", err)
		}
		if _, ok := r.(*sensor.FileReader); !ok {
			t.Errorf("reader = %T, want *sensor.FileReader", r)
		}
	})

	t.Run("mqtt without client", func(t *testing.T) {
		c := *cfg
		c.Sensor.Driver = config.SensorDriverMQTT
		c.Sensor.Topic = "zigbee2mqtt/hall_pir"
		if _, closeFn, err := openSensor(&c, nil, logging.Discard()); err == nil || closeFn == nil {
			t.Errorf("openSensor() error = %v, want error and a non-nil close func", err)
		}
	})
}

func TestRenderPins(t *testing.T) {
	at := time.Date(2026, 3, 1, 7, 5, 9, 0, time.UTC)

	line := renderPins(at, 1<<4, 4)
	for _, want := range []string{"07:05:09", "pin 4:", "HIGH"} {
		if !strings.Contains(line, want) {
			t.Errorf("renderPins() = %q, missing %q", line, want)
		}
	}

	if line := renderPins(at, 1<<5, 4); !strings.HasSuffix(line, " low") {
		t.Errorf("renderPins() = %q, want the watched pin low", line)
	}
}

func TestWatchPins_PrintsOnChange(t *testing.T) {
	var high atomic.Bool
	var scans atomic.Int32
	r := sensor.ReaderFunc(func(pin int) (bool, error) {
		if pin != 4 {
			return false, nil
		}
		// Pin 4 goes high on the second scan and stays there.
		if scans.Add(1) == 2 {
			high.Store(true)
		}
		return high.Load(), nil
	})

	var mu sync.Mutex
	var out bytes.Buffer
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return out.Write(p)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := watchPins(ctx, w, r, 4, 5*time.Millisecond); err != nil {
		t.Fatalf("watchPins() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("printed %d lines, want 2 (initial and one change):\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[1], "HIGH") {
		t.Errorf("second line = %q, want HIGH", lines[1])
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "pipresencemon dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestCheckConfigCmd(t *testing.T) {
	cfgPath, _, _ := mockConfig(t, "")

	out, stderr, err := execute(t, "check-config", "--config", cfgPath, "--print")
	if err != nil {
		t.Fatalf("check-config error = %v", err)
	}
	if !strings.Contains(out, "is valid: 1 occupancy and 1 vacancy commands") {
		t.Errorf("stdout = %q", out)
	}
	if !strings.Contains(out, "rising_edge_occupancy_threshold_pct") {
		t.Errorf("--print did not render the configuration:\n%s", out)
	}
	if stderr != "" {
		t.Errorf("unexpected warnings: %q", stderr)
	}
}

func TestCheckConfigCmd_Warnings(t *testing.T) {
	path := writeConfig(t, `
sensor:
  driver: mock
  mock_path: ./gpio_mock
`)
	_, stderr, err := execute(t, "check-config", "-c", path)
	if err != nil {
		t.Fatalf("check-config error = %v", err)
	}
	if !strings.Contains(stderr, "no occupancy commands specified") {
		t.Errorf("stderr = %q, want the empty command list warning", stderr)
	}
}

func TestCheckConfigCmd_Invalid(t *testing.T) {
	path := writeConfig(t, `
sensor:
  pin: 40
monitor:
  rising_edge_occupancy_threshold_pct: 20
  falling_edge_vacancy_threshold_pct: 30
`)
	_, _, err := execute(t, "check-config", "--config", path)
	if err == nil {
		t.Fatal("check-config should fail")
	}
	for _, want := range []string{"sensor.pin", "isn't stable"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestRunDaemon_MissingConfig(t *testing.T) {
	err := runDaemon(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("runDaemon() error = %v, want a config load error", err)
	}
}

// TestRunDaemon_RecordsHistory runs the whole daemon against the mock
// sensor: the space starts occupied, the occupancy command is launched and
// stopped again on shutdown, and every step lands in the history database.
func TestRunDaemon_RecordsHistory(t *testing.T) {
	cfgPath, _, dbPath := mockConfig(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	if err := runDaemon(ctx, cfgPath); err != nil {
		t.Fatalf("runDaemon() error = %v", err)
	}

	db, err := database.Open(database.Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer db.Close()

	res, err := history.NewSQLiteRepository(db.DB).List(context.Background(), history.Filter{Limit: 100})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	seen := map[string]bool{}
	for _, e := range res.Entries {
		seen[e.Kind+"/"+e.Event] = true
	}
	for _, want := range []string{"occupancy/occupied", "command/launched", "command/stopped"} {
		if !seen[want] {
			t.Errorf("history is missing %s; have %v", want, seen)
		}
	}
}

func TestDBCmd_MigrateStatusRollback(t *testing.T) {
	cfgPath, _, _ := mockConfig(t, "")

	stdout, _, err := execute(t, "--config", cfgPath, "db", "status")
	if err != nil {
		t.Fatalf("db status: %v", err)
	}
	if !strings.Contains(stdout, "presence_events") || !strings.Contains(stdout, "pending") {
		t.Errorf("status on a fresh database = %q, want presence_events pending", stdout)
	}

	stdout, _, err = execute(t, "--config", cfgPath, "db", "migrate")
	if err != nil {
		t.Fatalf("db migrate: %v", err)
	}
	if !strings.Contains(stdout, "applied ") || !strings.Contains(stdout, "_presence_events") {
		t.Errorf("migrate output = %q", stdout)
	}

	stdout, _, err = execute(t, "--config", cfgPath, "db", "migrate")
	if err != nil {
		t.Fatalf("second db migrate: %v", err)
	}
	if !strings.Contains(stdout, "nothing applied") {
		t.Errorf("second migrate output = %q, want nothing applied", stdout)
	}

	stdout, _, err = execute(t, "--config", cfgPath, "db", "status")
	if err != nil {
		t.Fatalf("db status: %v", err)
	}
	if !strings.Contains(stdout, "0 pending") {
		t.Errorf("status after migrate = %q, want 0 pending", stdout)
	}

	stdout, _, err = execute(t, "--config", cfgPath, "db", "rollback", "--steps", "1")
	if err != nil {
		t.Fatalf("db rollback: %v", err)
	}
	if !strings.Contains(stdout, "reverted ") {
		t.Errorf("rollback output = %q", stdout)
	}

	stdout, _, err = execute(t, "--config", cfgPath, "db", "status")
	if err != nil {
		t.Fatalf("db status: %v", err)
	}
	if strings.Contains(stdout, "0 pending") {
		t.Errorf("status after rollback = %q, want a pending migration", stdout)
	}

	if _, _, err := execute(t, "--config", cfgPath, "db", "rollback", "--steps", "0"); err == nil {
		t.Error("rollback --steps 0 succeeded")
	}
}

func TestDBCmd_Prune(t *testing.T) {
	cfgPath, _, dbPath := mockConfig(t, "")

	db, err := database.Open(database.Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	repo := history.NewSQLiteRepository(db.DB)
	for _, age := range []time.Duration{time.Hour, 10 * 24 * time.Hour, 40 * 24 * time.Hour} {
		e := &history.Entry{Kind: history.KindOccupancy, Event: history.EventOccupied, CreatedAt: time.Now().Add(-age)}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	db.Close() //nolint:errcheck // reopened by the command

	if _, _, err := execute(t, "--config", cfgPath, "db", "prune", "--days", "-1"); err == nil {
		t.Error("prune with a negative retention period succeeded")
	}

	// Without --days the configured retention (30 days by default) applies.
	stdout, _, err := execute(t, "--config", cfgPath, "db", "prune")
	if err != nil {
		t.Fatalf("db prune: %v", err)
	}
	if !strings.Contains(stdout, "pruned 1 events") {
		t.Errorf("prune output = %q, want 1 pruned", stdout)
	}

	stdout, _, err = execute(t, "--config", cfgPath, "db", "prune", "--days", "7")
	if err != nil {
		t.Fatalf("db prune: %v", err)
	}
	if !strings.Contains(stdout, "pruned 1 events") {
		t.Errorf("prune --days 7 output = %q, want 1 pruned", stdout)
	}
}

func TestDBCmd_DatabaseDisabled(t *testing.T) {
	cfgPath, _, dbPath := mockConfig(t, "")
	body, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	disabled := strings.Replace(string(body), "enabled: true", "enabled: false", 1)
	cfgPath = writeConfig(t, disabled)

	_, _, err = execute(t, "--config", cfgPath, "db", "status")
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("db status with database disabled: err = %v", err)
	}
	if _, statErr := os.Stat(dbPath); !os.IsNotExist(statErr) {
		t.Errorf("database file created while disabled: %v", statErr)
	}
}
