package main

const (
	MsgServerRunning = "Server is running!"

	MsgObjectsDetected = "Objects detected"

	MsgNoImage = "No image provided"

	MsgProcessingError = "Error processing image"

	MsgTooManyRequests = "Too many requests"
)
