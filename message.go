package main

const (
	MsgNoFile         = "No file provided"
	MsgNoFileSelected = "No file selected"
	MsgInvalidFormat  = "Invalid file format. Only PNG, JPG, and JPEG are allowed."
	MsgFileTooLarge   = "File too large"
	MsgInternalError  = "Internal server error"
)
