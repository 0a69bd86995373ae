package myotherplugin

import (
	"fmt"

	"jsonfmt"
	"pluginhost/pkg/plugin"
)

type MyOtherPlugin struct{}

func New() (plugin.Plugin, error) {
	p := &MyOtherPlugin{}
	fmt.Println("Creating: " + p.Name() + ", referencing jsonfmt " + jsonfmt.Version)
	return p, nil
}

func (p *MyOtherPlugin) Name() string { return "MyOtherPlugin" }

func (p *MyOtherPlugin) Close() error {
	fmt.Println("Disposing: " + p.Name())
	return nil
}
