package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/RMahshie/fetbench/pkg/models"
)

// loadRecipe reads a sweep recipe. A recipe has the shape of a start
// request:
//
//	type: idvg
//	filename: dut7
//	drain: {from: 0.2, to: 0.4, step: 0.2, delay: 0.5}
//	gate:  {from: -10, to: 10, step: 0.5, delay: 0.2}
func loadRecipe(path string) (models.StartSweepRequestBody, error) {
	var req models.StartSweepRequestBody

	f, err := os.Open(path)
	if err != nil {
		return req, fmt.Errorf("open recipe: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("parse recipe %s: %w", path, err)
	}
	return req, nil
}
