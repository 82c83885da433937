// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, which carries the tunable
// parameters of the typing cadence model. They control inter-key pauses,
// key dwell time, rhythm speedups on common n-grams and fatigue build-up.
package config

import "github.com/spf13/viper"

// HumanoidConfig holds the typing cadence parameters. All durations are in
// milliseconds.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Key Pause (IKD) Parameters
	KeyPauseMean          float64 `mapstructure:"key_pause_mean" yaml:"key_pause_mean"`
	KeyPauseStdDev        float64 `mapstructure:"key_pause_std_dev" yaml:"key_pause_std_dev"`
	KeyPauseMin           float64 `mapstructure:"key_pause_min" yaml:"key_pause_min"`
	KeyPauseNgramFactor2  float64 `mapstructure:"key_pause_ngram_factor_2" yaml:"key_pause_ngram_factor_2"`
	KeyPauseNgramFactor3  float64 `mapstructure:"key_pause_ngram_factor_3" yaml:"key_pause_ngram_factor_3"`
	KeyPauseFatigueFactor float64 `mapstructure:"key_pause_fatigue_factor" yaml:"key_pause_fatigue_factor"`

	// Key dwell
	KeyHoldMean   float64 `mapstructure:"key_hold_mean" yaml:"key_hold_mean"`
	KeyHoldStdDev float64 `mapstructure:"key_hold_std_dev" yaml:"key_hold_std_dev"`

	// Fatigue Modeling
	FatigueIncreaseRate float64 `mapstructure:"fatigue_increase_rate" yaml:"fatigue_increase_rate"`
	FatigueRecoveryRate float64 `mapstructure:"fatigue_recovery_rate" yaml:"fatigue_recovery_rate"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.key_pause_mean", 70.0)
	v.SetDefault("browser.humanoid.key_pause_std_dev", 28.0)
	v.SetDefault("browser.humanoid.key_pause_min", 35.0)
	v.SetDefault("browser.humanoid.key_pause_ngram_factor_2", 0.7)
	v.SetDefault("browser.humanoid.key_pause_ngram_factor_3", 0.55)
	v.SetDefault("browser.humanoid.key_pause_fatigue_factor", 0.3)
	v.SetDefault("browser.humanoid.key_hold_mean", 55.0)
	v.SetDefault("browser.humanoid.key_hold_std_dev", 15.0)
	v.SetDefault("browser.humanoid.fatigue_increase_rate", 0.005)
	v.SetDefault("browser.humanoid.fatigue_recovery_rate", 0.01)
}
