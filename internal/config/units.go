package config

type RosterConfig struct {
	Units []UnitDef `yaml:"units"`
}

type UnitDef struct {
	ID     string   `yaml:"id" json:"id"`
	Name   string   `yaml:"name" json:"name"`
	Tags   []string `yaml:"tags" json:"tags,omitempty"`
	MaxHP  int      `yaml:"max_hp" json:"max_hp"`
	Attack int      `yaml:"attack" json:"attack"`
	Cost   int      `yaml:"cost" json:"cost"`
}

func DefaultRoster() []UnitDef {
	return []UnitDef{
		{ID: "u_guard", Name: "Guard", Tags: []string{"front"}, MaxHP: 60, Attack: 4, Cost: 3},
		{ID: "u_archer", Name: "Archer", Tags: []string{"ranged"}, MaxHP: 30, Attack: 8, Cost: 3},
		{ID: "u_mage", Name: "Mage", Tags: []string{"ranged", "magic"}, MaxHP: 25, Attack: 11, Cost: 4},
		{ID: "u_brute", Name: "Brute", Tags: []string{"front"}, MaxHP: 80, Attack: 6, Cost: 5},
	}
}
