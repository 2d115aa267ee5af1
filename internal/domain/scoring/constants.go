package scoring

type FormulaKind string

const (
	FormulaPositive FormulaKind = "positive"
	FormulaNegative FormulaKind = "negative"
	FormulaBinary   FormulaKind = "binary"
	FormulaStepped  FormulaKind = "stepped"
	FormulaCustom   FormulaKind = "custom"
)

// FullScore is the score a binary metric earns when no incident was reported.
const FullScore = 100.0

// WeightBudget is the maximum total weight for one scope.
const WeightBudget = 100.0

const (
	OpGTE = ">="
	OpGT  = ">"
	OpLTE = "<="
	OpLT  = "<"
	OpEQ  = "="
)

type RollupMethod string

const (
	RollupAverage         RollupMethod = "average"
	RollupWeightedAverage RollupMethod = "weighted_average"
	RollupLeaderScore     RollupMethod = "leader_score"
	RollupSum             RollupMethod = "sum"
	RollupMin             RollupMethod = "min"
	RollupMax             RollupMethod = "max"
)

var FormulaKinds = []string{
	string(FormulaPositive),
	string(FormulaNegative),
	string(FormulaBinary),
	string(FormulaStepped),
	string(FormulaCustom),
}

var RollupMethods = []string{
	string(RollupAverage),
	string(RollupWeightedAverage),
	string(RollupLeaderScore),
	string(RollupSum),
	string(RollupMin),
	string(RollupMax),
}

func (k FormulaKind) Valid() bool {
	switch k {
	case FormulaPositive, FormulaNegative, FormulaBinary, FormulaStepped, FormulaCustom:
		return true
	}
	return false
}

func (m RollupMethod) String() string { return string(m) }
