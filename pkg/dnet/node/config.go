package node

import (
	"time"

	"github.com/spf13/viper"

	"github.com/jabolina/dnet/pkg/dnet/core"
)

// Config mirrors spec §6's recognized node options, viper-backed so values
// can come from a config file, environment, or bound cobra flags (see
// cmd/dnetnode/main.go).
type Config struct {
	Addrs  []string
	Cookie []byte

	WaitTimeout time.Duration

	KeepCnt      int
	KeepIdle     time.Duration
	KeepInterval time.Duration

	ClientPrio int
	ServerPrio int

	NetThreadNum             int
	IOThreadNum              int
	NonblockingIOThreadNum   int
	IOQueueSoftLimit         int64
	ReconnectInterval        time.Duration
}

// SocketOptions derives the core.SocketOptions this config implies.
func (c *Config) SocketOptions() core.SocketOptions {
	return core.SocketOptions{
		KeepCount:      c.KeepCnt,
		KeepIdle:       c.KeepIdle,
		KeepInterval:   c.KeepInterval,
		ClientPriority: c.ClientPrio,
		ServerPriority: c.ServerPrio,
	}
}

// DefaultConfig returns the zero-config starting point LoadConfig seeds
// into viper as defaults before binding flags/env/file over it.
func DefaultConfig() *Config {
	return &Config{
		Addrs:                  []string{"0.0.0.0:1025:2"},
		WaitTimeout:            60 * time.Second,
		KeepCnt:                3,
		KeepIdle:               30 * time.Second,
		KeepInterval:           5 * time.Second,
		ClientPrio:             0,
		ServerPrio:             0,
		NetThreadNum:           4,
		IOThreadNum:            8,
		NonblockingIOThreadNum: 2,
		IOQueueSoftLimit:       64 << 20,
		ReconnectInterval:      5 * time.Second,
	}
}

// LoadConfig merges file/env/flag-bound values in v over DefaultConfig's
// defaults, the bind-defaults-then-override pattern used throughout the
// pack's viper-based CLIs.
func LoadConfig(v *viper.Viper) (*Config, error) {
	def := DefaultConfig()
	v.SetDefault("addrs", def.Addrs)
	v.SetDefault("cookie", def.Cookie)
	v.SetDefault("wait_timeout", def.WaitTimeout)
	v.SetDefault("keep_cnt", def.KeepCnt)
	v.SetDefault("keep_idle", def.KeepIdle)
	v.SetDefault("keep_interval", def.KeepInterval)
	v.SetDefault("client_prio", def.ClientPrio)
	v.SetDefault("server_prio", def.ServerPrio)
	v.SetDefault("net_thread_num", def.NetThreadNum)
	v.SetDefault("io_thread_num", def.IOThreadNum)
	v.SetDefault("nonblocking_io_thread_num", def.NonblockingIOThreadNum)
	v.SetDefault("io_queue_soft_limit", def.IOQueueSoftLimit)
	v.SetDefault("reconnect_interval", def.ReconnectInterval)

	v.SetEnvPrefix("DNET")
	v.AutomaticEnv()

	cfg := &Config{
		Addrs:                  v.GetStringSlice("addrs"),
		Cookie:                 []byte(v.GetString("cookie")),
		WaitTimeout:            v.GetDuration("wait_timeout"),
		KeepCnt:                v.GetInt("keep_cnt"),
		KeepIdle:               v.GetDuration("keep_idle"),
		KeepInterval:           v.GetDuration("keep_interval"),
		ClientPrio:             v.GetInt("client_prio"),
		ServerPrio:             v.GetInt("server_prio"),
		NetThreadNum:           v.GetInt("net_thread_num"),
		IOThreadNum:            v.GetInt("io_thread_num"),
		NonblockingIOThreadNum: v.GetInt("nonblocking_io_thread_num"),
		IOQueueSoftLimit:       v.GetInt64("io_queue_soft_limit"),
		ReconnectInterval:      v.GetDuration("reconnect_interval"),
	}
	return cfg, nil
}
