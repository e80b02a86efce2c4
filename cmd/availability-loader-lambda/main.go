package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"

	avail "github.com/CovidWA/covidwa-availability"
)

// AWS Lambda wrapper

type RunEvent struct {
	Name string `json:"name"`
	// optional source name pattern; empty runs everything
	Sources string `json:"sources"`
}

func RunWithPanicTrap(ctx context.Context, evt RunEvent) (err error) {
	//trap any panic and return it as the error
	defer func() {
		if r := recover(); r != nil {
			if panicErr, ok := r.(error); ok {
				err = panicErr
			} else if str, ok := r.(string); ok {
				err = errors.New(str)
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()

	config, err := avail.NewConfigDefaultPath(ctx)
	if err != nil {
		return err
	}
	//always disable file output on lambda
	config.DumpOutput = false

	runs, err := avail.CreateSources(config)
	if err != nil {
		return err
	}
	if len(evt.Sources) > 0 {
		if runs, err = avail.FilterSources(runs, evt.Sources); err != nil {
			return err
		}
	}

	runner, err := avail.NewRunner(ctx, config)
	if err != nil {
		return err
	}
	defer runner.Close()

	return runner.RunOnce(ctx, runs)
}

func HandleRequest(ctx context.Context, evt RunEvent) (string, error) {
	if err := RunWithPanicTrap(ctx, evt); err != nil {
		return fmt.Sprintf("Execution finished with error: %s!", evt.Name), err
	}
	return fmt.Sprintf("Execution finished: %s!", evt.Name), nil
}

func main() {
	lambda.Start(HandleRequest)
}
