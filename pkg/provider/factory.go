package provider

import "fmt"

// SingleBindingFactory is a Factory that resolves one binding name (and
// the empty name) to one pre-built Provider. It is the minimum real ProviderFactory needed
// to exercise the engine end to end (§1 expansion); a multi-provider
// registry is out of scope the same way multiple vendor SDKs are.
type SingleBindingFactory struct {
	Name string
	Prov Provider
}

// NewSingleBindingFactory builds a Factory whose Bind returns prov for
// an empty binding name or for name, and an error for any other name.
func NewSingleBindingFactory(name string, prov Provider) *SingleBindingFactory {
	return &SingleBindingFactory{Name: name, Prov: prov}
}

func (f *SingleBindingFactory) Bind(name string) (Provider, error) {
	if name != "" && name != f.Name {
		return nil, fmt.Errorf("provider: no binding registered for %q", name)
	}
	return f.Prov, nil
}
