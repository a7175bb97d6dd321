package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/boogy/permission-warden/pkg/handler"
)

func main() {
	// Initialize all components using bootstrap
	bootstrap, err := handler.NewBootstrap(context.Background())
	if err != nil {
		panic(err)
	}

	// Create the Lambda URL handler
	h := handler.NewAwsLambdaUrlFromBootstrap(bootstrap)

	// Flush pending audit decisions when the runtime shuts the function down
	lambda.StartWithOptions(h.Handler, lambda.WithEnableSIGTERM(bootstrap.Cleanup))
}
