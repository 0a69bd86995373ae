package myplugin

import (
	"fmt"

	"jsonfmt"
	"pluginhost/pkg/plugin"
)

type MyPlugin struct{}

func New() plugin.Plugin {
	p := &MyPlugin{}
	fmt.Println("Creating: " + p.Name() + ", referencing jsonfmt " + jsonfmt.Version)
	return p
}

func (p *MyPlugin) Name() string { return "MyPlugin" }

func (p *MyPlugin) Close() error {
	fmt.Println("Disposing: " + jsonfmt.Marshal(map[string]string{"name": p.Name()}))
	return nil
}
