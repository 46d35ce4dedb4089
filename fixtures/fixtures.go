package fixtures

import (
	_ "embed"
)

//go:embed config/config.yaml.template
var ConfigTemplate []byte

//go:embed config/scenarios.yaml.template
var ScenariosTemplate []byte
