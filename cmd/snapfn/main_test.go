package main

import (
	"reflect"
	"testing"
)

func TestArgs(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "")
	if got := args([]string{"bootstrap"}); !reflect.DeepEqual(got, []string{"bootstrap"}) {
		t.Errorf("args() outside the platform = %v", got)
	}

	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:9001")
	if got := args([]string{"bootstrap"}); !reflect.DeepEqual(got, []string{"bootstrap", "lambda"}) {
		t.Errorf("args() in the platform = %v", got)
	}
	if got := args([]string{"bootstrap", "version"}); !reflect.DeepEqual(got, []string{"bootstrap", "version"}) {
		t.Errorf("explicit command replaced: %v", got)
	}
}
