// Copyright Project Flowplane Authors
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

package main

import (
	"context"
	"fmt"
	"os"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"

	"github.com/rajeevramani/flowplane/internal/build"
	"github.com/rajeevramani/flowplane/internal/store"
)

func main() {
	log := logrus.StandardLogger()

	app := kingpin.New("flowplane", "Flowplane Envoy xDS control plane.")
	app.HelpFlag.Short('h')

	serve, serveCtx := registerServe(app, log)

	team := app.Command("team", "Sub-command for team administration.")
	teamAdd := team.Command("add", "Register a team in the configuration repository.")
	var teamName, teamOrg, teamDB string
	teamAdd.Arg("name", "Team name.").Required().StringVar(&teamName)
	teamAdd.Flag("org", "Organization id.").StringVar(&teamOrg)
	teamAdd.Flag("database", "Path to the configuration repository.").Default("flowplane.db").StringVar(&teamDB)

	version := app.Command("version", "Build information for Flowplane.")

	args := os.Args[1:]
	switch kingpin.MustParse(app.Parse(args)) {
	case serve.FullCommand():
		if err := doServe(log, serveCtx); err != nil {
			log.WithError(err).Fatal("Flowplane server failed")
		}
		log.Info("terminated Flowplane server cleanly")
	case teamAdd.FullCommand():
		st, err := store.Open(teamDB, log.WithField("context", "store"))
		if err != nil {
			log.WithError(err).Fatal("opening configuration repository")
		}
		defer st.Close()
		if _, err := st.CreateTeam(context.Background(), teamName, teamOrg); err != nil {
			log.WithError(err).Fatal("registering team")
		}
		log.WithField("team", teamName).Info("registered team")
	case version.FullCommand():
		fmt.Println(build.PrintBuildInfo())
	default:
		app.Usage(args)
		os.Exit(2)
	}
}
