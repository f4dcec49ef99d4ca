// Package hcl provides the concrete HCL implementation of the config.Loader
// interface. It parses override files, evaluates their expressions against
// an `env` object built from the process environment, and translates the
// decoded blocks into the format-agnostic config.Overrides.
//
// A complete override file looks like:
//
//	adapter {
//	  rank           = 8
//	  target_modules = ["q_proj", "v_proj"]
//	}
//	schedule {
//	  epochs         = 2
//	  max_seq_length = 1024
//	}
//	dataset {
//	  version = "v2"
//	}
//	operator {
//	  name = env.USER
//	}
//	engine {
//	  command = ["python3", "scripts/train_lora.py"]
//	}
//	system {
//	  gpu  = "NVIDIA RTX 4070 Mobile"
//	  vram = "8GB"
//	}
package hcl
