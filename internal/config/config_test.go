package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: avgxd\n"))
	if err != nil {
		t.Fatalf("加载默认配置不应失败: %v", err)
	}

	if cfg.Scheduler.Interval != time.Hour {
		t.Fatalf("默认调度间隔应为 1h, 实际 %v", cfg.Scheduler.Interval)
	}
	if cfg.Stability.ClampPct != 0.015 {
		t.Fatalf("默认钳制幅度应为 0.015, 实际 %v", cfg.Stability.ClampPct)
	}
	if cfg.Stability.VolatilityWindow != 30 {
		t.Fatalf("默认波动率窗口应为 30, 实际 %v", cfg.Stability.VolatilityWindow)
	}
	if cfg.Feeds.MaxAttempts != 3 {
		t.Fatalf("默认重试次数应为 3, 实际 %v", cfg.Feeds.MaxAttempts)
	}
	if len(cfg.Baskets.Fiat) != 5 {
		t.Fatalf("默认法币篮子应含 5 个资产, 实际 %d", len(cfg.Baskets.Fiat))
	}
	if len(cfg.Baskets.Crypto) != 4 {
		t.Fatalf("默认加密篮子应含 4 个资产, 实际 %d", len(cfg.Baskets.Crypto))
	}
	if cfg.Alerting.Enabled {
		t.Fatal("告警默认应关闭")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, strings.Join([]string{
		"scheduler:",
		"  interval: 30m",
		"stability:",
		"  clamp_pct: 0.02",
		"baskets:",
		"  crypto:",
		"    - code: bitcoin",
		"      name: Bitcoin",
		"      weight: 1.0",
	}, "\n")))
	if err != nil {
		t.Fatalf("加载配置文件不应失败: %v", err)
	}

	if cfg.Scheduler.Interval != 30*time.Minute {
		t.Fatalf("interval 覆盖失败, 实际 %v", cfg.Scheduler.Interval)
	}
	if cfg.Stability.ClampPct != 0.02 {
		t.Fatalf("clamp_pct 覆盖失败, 实际 %v", cfg.Stability.ClampPct)
	}
	if len(cfg.Baskets.Crypto) != 1 || cfg.Baskets.Crypto[0].Code != "bitcoin" {
		t.Fatalf("篮子覆盖失败, 实际 %+v", cfg.Baskets.Crypto)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"零调度间隔", func(c *Config) { c.Scheduler.Interval = 0 }},
		{"越界 alpha", func(c *Config) { c.Stability.AlphaFiat = 1.5 }},
		{"过小波动率窗口", func(c *Config) { c.Stability.VolatilityWindow = 1 }},
		{"零钳制幅度", func(c *Config) { c.Stability.ClampPct = 0 }},
		{"负权重", func(c *Config) { c.Baskets.Crypto[0].Weight = -0.1 }},
		{"缺失资产代码", func(c *Config) { c.Baskets.Fiat[0].Code = "" }},
		{"telegram 缺少 token", func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.ChatID = "123"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, ""))
			if err != nil {
				t.Fatalf("基准配置不应失败: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("非法配置应校验失败")
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 100000}}

	if got := cfg.ResolveMaxPoints(0); got != 100000 {
		t.Fatalf("无覆盖时应返回配置值, 实际 %d", got)
	}
	if got := cfg.ResolveMaxPoints(500); got != 500 {
		t.Fatalf("CLI 覆盖应优先, 实际 %d", got)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
