package news

import (
	"strings"

	"github.com/kospisim/market-engine/internal/model"
)

var goodHeadlines = []string{
	"{name} beats quarterly estimates by a wide margin",
	"{name} signs record supply contract",
	"{name} announces entry into a new business line",
	"Institutional buying in {name} surges",
	"Foreign investors pile into {name}",
	"{name} selected for government support programme",
	"{name} wins landmark patent",
	"{name} clinches major overseas deal",
	"{name} signals sharply higher dividend",
	"{name} merger said to be days away",
}

var badHeadlines = []string{
	"{name} misses quarterly estimates by a wide margin",
	"{name} announces large-scale recall",
	"Key engineers leave {name} en masse",
	"Institutions dump {name} shares",
	"Foreign investors exit {name}",
	"Regulators open investigation into {name}",
	"{name} loses market share to rivals",
	"Major customer cancels {name} contract",
	"Accounting irregularities alleged at {name}",
	"{name} executives face misconduct charges",
}

func headline(effect model.Effect, i int, name string) string {
	list := goodHeadlines
	if effect == model.EffectBad {
		list = badHeadlines
	}
	return strings.ReplaceAll(list[i%len(list)], "{name}", name)
}

func description(effect model.Effect, name string) string {
	if effect == model.EffectGood {
		return "Strong buy signals detected for " + name + "."
	}
	return "Investors are advised to use caution with " + name + "."
}
