// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command taskcoreboot is a hosted boot harness for the task-management
// core: it brings up a Kernel against a mock platform and frame
// allocator, the way runsc's "boot" subcommand brings up a sentry against
// a real one, and walks a couple of the core's scenarios end to end so
// they can be watched rather than only asserted on in tests.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	log "github.com/sirupsen/logrus"

	"kranos.dev/taskcore"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&bootCommand{}, "")
	subcommands.Register(&forkDemoCommand{}, "")

	configPath := flag.String("config", "", "path to a TOML configuration file (defaults built in if empty)")
	verbose := flag.Bool("v", false, "enable debug-level logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg := taskcore.DefaultConfig()
	if *configPath != "" {
		loaded, err := taskcore.LoadConfig(*configPath)
		if err != nil {
			log.WithError(err).Fatal("loading configuration")
		}
		cfg = loaded
	}

	os.Exit(int(subcommands.Execute(context.Background(), cfg)))
}
