package registry

const (
	// DefaultPartitions is the number of independently locked partitions.
	DefaultPartitions = 7

	// DefaultRestartBudget is the number of restarts a single partition scan
	// may take before it is abandoned.
	DefaultRestartBudget = 5

	// DefaultDegree is the B-tree degree of each partition index.
	DefaultDegree = 16
)

// Config tunes the registry layout.
//
// Zero values select the defaults, so an empty Config is valid.
type Config struct {
	// Partitions is the number of partitions transports are spread over.
	// Changing it changes which partition a descriptor maps to.
	Partitions int `mapstructure:"partitions" validate:"min=0" yaml:"partitions"`

	// RestartBudget bounds how many times a partition scan restarts from the
	// beginning before the partition is reported incomplete.
	RestartBudget int `mapstructure:"restart_budget" validate:"min=0" yaml:"restart_budget"`

	// Degree is the B-tree degree used for each partition.
	Degree int `mapstructure:"btree_degree" validate:"omitempty,min=2" yaml:"btree_degree"`
}

// ApplyDefaults fills zero fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Partitions <= 0 {
		c.Partitions = DefaultPartitions
	}
	if c.RestartBudget <= 0 {
		c.RestartBudget = DefaultRestartBudget
	}
	if c.Degree < 2 {
		c.Degree = DefaultDegree
	}
}
