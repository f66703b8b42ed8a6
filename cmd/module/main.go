package main

import (
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"

	"pickplace/service"
)

func main() {
	module.ModularMain(resource.APIModel{API: generic.API, Model: service.Model})
}
