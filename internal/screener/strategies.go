package screener

import (
	"log/slog"

	"github.com/chiehw/twscreener/internal/config"
)

// LeftChain assembles the accumulation strategy: eleven stages walking
// from cheap structural filters down to the institutional-flow read.
func LeftChain(env *Env, p config.LeftParams, log *slog.Logger) *Pipeline {
	stages := []Stage{
		&MarketCapStage{Env: env, Min: p.MarketCapMin, Max: p.MarketCapMax},
		&RevenueGrowthStage{Env: env, Params: p},
		&PERatioStage{Env: env, PEMax: p.PEMax},
		&HigherLowsStage{Env: env, Params: p},
		&PullbackStage{Env: env, Params: p},
		&VolumeHealthStage{Env: env, Params: p},
		&VolumeShrinkStage{Env: env, Params: p},
		&RSIStage{Env: env, Params: p},
		&TurnoverStage{Env: env, Params: p},
		&MajorHolderStage{Env: env, Params: p},
		&QuietAccumulationStage{Env: env, Params: p},
	}
	return NewPipeline("left", stages, log)
}

// RightChain assembles the momentum strategy: six stages from cheap
// quote predicates to the intraday-high confirmation. The caller ranks
// the survivors with RankByChange.
func RightChain(env *Env, p config.RightParams, log *slog.Logger) *Pipeline {
	stages := []Stage{
		&MarketCapStage{Env: env, Min: p.MarketCapMin, Max: p.MarketCapMax},
		&PriceChangeStage{Min: p.PriceChangeMin, Max: p.PriceChangeMax},
		&VolumeRatioStage{Env: env, Params: p},
		&MABullishStage{Env: env, Params: p},
		&RelativeStrengthStage{Env: env},
		&IntradayHighStage{Threshold: p.IntradayHighThreshold},
	}
	return NewPipeline("right", stages, log)
}
