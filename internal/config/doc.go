// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Variables missing from the process environment are looked up in a .env file
// next to the configuration file, so socket tokens can stay out of the YAML.
package config
