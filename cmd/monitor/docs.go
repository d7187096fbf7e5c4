package main

//go:generate swag init -g cmd/monitor/main.go -o docs

// @title           Insiderwatch API
// @version         0.1.0
// @description     Trade anomaly scores, alerts, investigation candidates and detection feedback.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
