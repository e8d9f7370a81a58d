// Command micloud-cli is the reference driver (C9): it loads an account
// from a YAML config, drives Session.Login with terminal prompts for
// CAPTCHA/2FA, lists devices, and sends RPC calls chosen interactively
// until the user leaves the device menu.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sideport/micloud/pkg/features"
	"github.com/sideport/micloud/pkg/micloud"
)

const Version = "0.1.0"

const usage = `Usage of micloud-cli:

  -c, --config   Path to config file (YAML), or inline JSON config
  -a, --account  Account name within the config to use
`

type accountConfig struct {
	Region   string `yaml:"region"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func main() {
	var configPath, account string

	flag.Usage = func() { fmt.Print(usage) }
	flag.StringVar(&configPath, "config", "", "")
	flag.StringVar(&configPath, "c", "", "")
	flag.StringVar(&account, "account", "", "")
	flag.StringVar(&account, "a", "", "")
	flag.Parse()

	log.Printf("micloud-cli version %s", Version)

	data, err := readConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	accounts := make(map[string]accountConfig)
	if err := yaml.Unmarshal(data, &accounts); err != nil {
		log.Fatal(err)
	}

	cfg, ok := accounts[account]
	if !ok {
		if len(accounts) != 1 {
			log.Fatalf("account %q not found in config; specify -a from: %v", account, accountNames(accounts))
		}
		for _, only := range accounts {
			cfg = only
		}
	}

	session := micloud.New()
	session.SetRegion(cfg.Region)

	stdin := bufio.NewReader(os.Stdin)
	installPrompts(session, stdin)

	ctx := context.Background()

	if err := session.Login(ctx, cfg.Username, cfg.Password); err != nil {
		log.Fatalf("login: %v", err)
	}
	log.Printf("logged in: user_id=%s", session.UserID())

	devices, err := session.GetDevices(ctx, nil, "")
	if err != nil {
		log.Fatalf("get devices: %v", err)
	}
	if len(devices) == 0 {
		log.Println("no devices found")
		return
	}

	deviceLoop(ctx, session, stdin, devices)
}

func accountNames(accounts map[string]accountConfig) []string {
	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	return names
}

// installPrompts wires the CAPTCHA and 2FA handlers to simple terminal
// prompts, grounded on original_source/src-tauri/cli/src/main.rs's
// setup_callbacks.
func installPrompts(session *micloud.Session, stdin *bufio.Reader) {
	session.OnCaptchaRequested(func(url string) {
		fmt.Printf("CAPTCHA required, open this URL and solve it: %s\n", url)
		fmt.Print("Enter the CAPTCHA code (blank to cancel): ")
		code := readLine(stdin)
		if code == "" {
			session.CaptchaCancel()
			return
		}
		session.CaptchaSolve(code)
	})

	session.OnTwoFactorRequested(func(flag, lastError string) {
		channel := "email"
		if flag == "4" {
			channel = "phone"
		}
		if lastError != "" {
			fmt.Println(lastError)
		}
		fmt.Printf("Enter the %s verification code (blank to cancel): ", channel)
		code := readLine(stdin)
		if code == "" {
			session.TwoFactorCancel()
			return
		}
		session.TwoFactorSolve(code)
	})
}

func deviceLoop(ctx context.Context, session *micloud.Session, stdin *bufio.Reader, devices []micloud.Device) {
	for {
		fmt.Println("\nDevices:")
		for i, d := range devices {
			status := "offline"
			if d.IsOnline {
				status = "online"
			}
			fmt.Printf("  [%d] %s (%s, %s) - %s\n", i, d.Name, d.Model, d.Did, status)
		}
		fmt.Print("\nSelect a device by index (blank to exit): ")

		choice := readLine(stdin)
		if choice == "" {
			return
		}
		idx, err := strconv.Atoi(choice)
		if err != nil || idx < 0 || idx >= len(devices) {
			fmt.Println("invalid selection")
			continue
		}

		featureLoop(ctx, session, stdin, devices[idx])
	}
}

func featureLoop(ctx context.Context, session *micloud.Session, stdin *bufio.Reader, device micloud.Device) {
	specs := features.Resolve(device.Model)
	if len(specs) == 0 {
		fmt.Printf("no known features for model %s\n", device.Model)
		return
	}

	for {
		fmt.Println("\nFeatures:")
		for i, f := range specs {
			fmt.Printf("  [%d] %s\n", i, f.Label)
		}
		fmt.Print("\nSelect a feature to set (blank to go back): ")

		choice := readLine(stdin)
		if choice == "" {
			return
		}
		idx, err := strconv.Atoi(choice)
		if err != nil || idx < 0 || idx >= len(specs) {
			fmt.Println("invalid selection")
			continue
		}

		spec := specs[idx]
		fmt.Printf("Enter a new value for %s: ", spec.Label)
		value := readLine(stdin)
		call := spec.Set(value)

		result, err := session.CallDevice(ctx, device.Did, call.Method, call.Params, "")
		if err != nil {
			log.Printf("call failed: %v", err)
			continue
		}
		fmt.Printf("ok: %s\n", string(result))
	}
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

const configName = "micloud.yaml"

// readConfig mirrors the teacher's four-step resolution: literal
// JSON/YAML passed inline, explicit path, config in CWD, config next to
// the binary.
func readConfig(name string) ([]byte, error) {
	if name != "" {
		if strings.HasPrefix(strings.TrimSpace(name), "{") {
			return []byte(name), nil
		}
		return os.ReadFile(name)
	}

	if data, err := os.ReadFile(configName); err == nil {
		return data, nil
	}

	ex, err := os.Executable()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(ex)

	data, err := os.ReadFile(filepath.Join(dir, configName))
	if err != nil {
		return nil, err
	}
	return data, os.Chdir(dir)
}
