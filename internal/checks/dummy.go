package checks

import "context"

const KindDummy = "dummy"

// Dummy always succeeds. It exercises the engine and report path without
// touching the network.
type Dummy struct{}

func (*Dummy) Kind() string {
	return KindDummy
}

func (*Dummy) Check(context.Context, string) error {
	return nil
}

func buildDummy(payload map[string]interface{}) (Checker, error) {
	var cfg struct{}
	if err := decode(payload, &cfg); err != nil {
		return nil, err
	}
	return &Dummy{}, nil
}
